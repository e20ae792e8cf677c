package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/storage/memory"
	"tutorme/tutorchat/internal/votes"
)

const testServiceToken = "svc-token"

func startRankingServer(t *testing.T, store *memory.Store, opts ...grpc.DialOption) *RankingClient {
	t.Helper()
	interceptor, err := NewServiceAuthUnaryInterceptor(testServiceToken)
	require.NoError(t, err)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	RegisterRankingServiceServer(server, NewRankingServer(votes.NewAggregator(store, time.Second)))
	go func() { _ = server.Serve(listener) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}))
	conn, err := grpc.DialContext(ctx, "bufnet",
		append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))...,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return NewRankingClient(conn)
}

func seedTutors(t *testing.T, store *memory.Store, emails ...string) {
	t.Helper()
	for _, email := range emails {
		require.NoError(t, store.CreateTutor(context.Background(), model.Tutor{Email: email, DisplayName: email}))
	}
}

func TestServiceAuthRejectsMissingAndWrongToken(t *testing.T) {
	client := startRankingServer(t, memory.New())

	_, err := client.GetRanking(context.Background())
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.GetRanking(WithServiceToken(context.Background(), "nope"))
	require.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestInterceptorRequiresToken(t *testing.T) {
	_, err := NewServiceAuthUnaryInterceptor("")
	require.Error(t, err)
}

func TestCastVoteAndRanking(t *testing.T) {
	store := memory.New()
	seedTutors(t, store, "a@tutorme.io", "b@tutorme.io")
	client := startRankingServer(t, store)
	ctx := WithServiceToken(context.Background(), testServiceToken)

	req, err := structpb.NewStruct(map[string]interface{}{
		"voter_id":    "u1",
		"voter_email": "sam@students.io",
		"target":      "b@tutorme.io",
		"kind":        "like",
	})
	require.NoError(t, err)
	resp, err := client.CastVote(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "added", resp.GetFields()["outcome"].GetStringValue())
	require.Equal(t, float64(1), resp.GetFields()["tutor"].GetStructValue().GetFields()["likes"].GetNumberValue())

	ranking, err := client.GetRanking(ctx)
	require.NoError(t, err)
	list := ranking.GetFields()["ranking"].GetListValue().GetValues()
	require.Len(t, list, 2)
	require.Equal(t, "b@tutorme.io", list[0].GetStructValue().GetFields()["email"].GetStringValue())
}

func TestCastVoteStatusCodes(t *testing.T) {
	store := memory.New()
	seedTutors(t, store, "a@tutorme.io")
	client := startRankingServer(t, store)
	ctx := WithServiceToken(context.Background(), testServiceToken)

	cases := []struct {
		name   string
		fields map[string]interface{}
		code   codes.Code
	}{
		{"missing voter", map[string]interface{}{"target": "a@tutorme.io", "kind": "like"}, codes.InvalidArgument},
		{"bad kind", map[string]interface{}{"voter_id": "u1", "voter_email": "s@x.io", "target": "a@tutorme.io", "kind": "meh"}, codes.InvalidArgument},
		{"unknown tutor", map[string]interface{}{"voter_id": "u1", "voter_email": "s@x.io", "target": "ghost@tutorme.io", "kind": "like"}, codes.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := structpb.NewStruct(tc.fields)
			require.NoError(t, err)
			_, err = client.CastVote(ctx, req)
			require.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestClientInterceptorAttachesServiceToken(t *testing.T) {
	store := memory.New()
	seedTutors(t, store, "a@tutorme.io")
	client := startRankingServer(t, store,
		grpc.WithUnaryInterceptor(NewServiceTokenUnaryClientInterceptor(testServiceToken)))

	ranking, err := client.GetRanking(context.Background())
	require.NoError(t, err)
	require.Len(t, ranking.GetFields()["ranking"].GetListValue().GetValues(), 1)
}

func TestCastVoteNormalizesTarget(t *testing.T) {
	store := memory.New()
	seedTutors(t, store, "b@tutorme.io")
	client := startRankingServer(t, store)
	ctx := WithServiceToken(context.Background(), testServiceToken)

	req, err := structpb.NewStruct(map[string]interface{}{
		"voter_id":    "u1",
		"voter_email": "Sam@Students.io",
		"target":      " B@TutorMe.io ",
		"kind":        "like",
	})
	require.NoError(t, err)
	resp, err := client.CastVote(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "added", resp.GetFields()["outcome"].GetStringValue())

	tutor, err := store.GetTutor(context.Background(), "b@tutorme.io")
	require.NoError(t, err)
	require.Equal(t, int64(1), tutor.Likes)
}
