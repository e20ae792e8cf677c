// Package grpc exposes the tutor ranking to other services. Messages are
// carried as well-known protobuf types so no generated stubs are needed.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
	"tutorme/tutorchat/internal/votes"
)

const (
	rankingServiceName = "tutorchat.ranking.v1.RankingService"
	getRankingMethod   = "/" + rankingServiceName + "/GetRanking"
	castVoteMethod     = "/" + rankingServiceName + "/CastVote"
)

type RankingServiceServer interface {
	GetRanking(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	CastVote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type RankingServer struct {
	votes *votes.Aggregator
}

func NewRankingServer(aggregator *votes.Aggregator) *RankingServer {
	return &RankingServer{votes: aggregator}
}

func RegisterRankingServiceServer(s grpc.ServiceRegistrar, srv RankingServiceServer) {
	s.RegisterService(&rankingServiceDesc, srv)
}

func (s *RankingServer) GetRanking(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ranking, err := s.votes.Ranking(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{"ranking": tutorList(ranking)})
}

// CastVote casts on behalf of the voter named in the request. Callers are
// trusted services, authenticated by the interceptor.
func (s *RankingServer) CastVote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	voterID := fields["voter_id"].GetStringValue()
	voterEmail := fields["voter_email"].GetStringValue()
	target := strings.ToLower(strings.TrimSpace(fields["target"].GetStringValue()))
	if voterID == "" || voterEmail == "" {
		return nil, status.Error(codes.InvalidArgument, "voter_id and voter_email required")
	}
	if target == "" {
		return nil, status.Error(codes.InvalidArgument, "target required")
	}
	kind, ok := model.ParseVoteKind(fields["kind"].GetStringValue())
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "invalid kind")
	}

	sess := session.New(voterID, voterEmail, "", session.RoleStudent)
	result, err := s.votes.Cast(ctx, sess, target, kind)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"outcome": string(result.Outcome),
		"tutor":   tutorFields(result.Tutor),
		"ranking": tutorList(result.Ranking),
	})
}

func tutorFields(t model.Tutor) map[string]interface{} {
	return map[string]interface{}{
		"email":        t.Email,
		"display_name": t.DisplayName,
		"course_tags":  t.CourseTags,
		"likes":        t.Likes,
		"dislikes":     t.Dislikes,
		"score":        t.Score(),
	}
}

func tutorList(tutors []model.Tutor) []interface{} {
	out := make([]interface{}, 0, len(tutors))
	for _, t := range tutors {
		out = append(out, tutorFields(t))
	}
	return out
}

func toStatus(ctx context.Context, err error) error {
	switch apperr.KindOf(err) {
	case apperr.NotAuthenticated:
		return status.Error(codes.Unauthenticated, err.Error())
	case apperr.Forbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case apperr.NotFound:
		return status.Error(codes.NotFound, "tutor not found")
	case apperr.Invalid, apperr.InvalidCommand:
		return status.Error(codes.InvalidArgument, err.Error())
	case apperr.TransportFailure:
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		logging.FromContext(ctx).Error().Err(err).Msg("ranking rpc failed")
		return status.Error(codes.Internal, "internal error")
	}
}

var rankingServiceDesc = grpc.ServiceDesc{
	ServiceName: rankingServiceName,
	HandlerType: (*RankingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRanking", Handler: getRankingHandler},
		{MethodName: "CastVote", Handler: castVoteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tutorchat/ranking/v1/ranking.proto",
}

func getRankingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RankingServiceServer).GetRanking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getRankingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RankingServiceServer).GetRanking(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func castVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RankingServiceServer).CastVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: castVoteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RankingServiceServer).CastVote(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RankingClient calls RankingService over cc.
type RankingClient struct {
	cc grpc.ClientConnInterface
}

func NewRankingClient(cc grpc.ClientConnInterface) *RankingClient {
	return &RankingClient{cc: cc}
}

func (c *RankingClient) GetRanking(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getRankingMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RankingClient) CastVote(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, castVoteMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
