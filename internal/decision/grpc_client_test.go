package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/ashureev/diplobot/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeDecisionService struct {
	orders   func(*structpb.Struct) (*structpb.Struct, error)
	messages func(*structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(pick func(*fakeDecisionService) func(*structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		return pick(srv.(*fakeDecisionService))(in)
	}
}

var fakeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DecideOrders",
			Handler: unaryHandler(func(s *fakeDecisionService) func(*structpb.Struct) (*structpb.Struct, error) {
				return s.orders
			}),
		},
		{
			MethodName: "DecideMessages",
			Handler: unaryHandler(func(s *fakeDecisionService) func(*structpb.Struct) (*structpb.Struct, error) {
				return s.messages
			}),
		},
	},
}

func startDecisionServer(t *testing.T, svc *fakeDecisionService) *GrpcClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&fakeServiceDesc, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient(GrpcClientConfig{Address: "passthrough:///bufnet", Model: "test-model"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("NewGrpcClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}

func TestGrpcClient_DecideOrders(t *testing.T) {
	var seenPower, seenModel string
	client := startDecisionServer(t, &fakeDecisionService{
		orders: func(in *structpb.Struct) (*structpb.Struct, error) {
			seenPower = in.GetFields()["power"].GetStringValue()
			seenModel = in.GetFields()["model"].GetStringValue()
			return structpb.NewStruct(map[string]any{"orders": []any{"A PAR - BUR", " ", "F BRE - MAO"}})
		},
	})

	orders, err := client.DecideOrders(context.Background(), Request{
		Power:          "FRANCE",
		Phase:          "S1901M",
		PossibleOrders: map[string][]string{"PAR": {"A PAR H", "A PAR - BUR"}},
	})
	if err != nil {
		t.Fatalf("DecideOrders() error = %v", err)
	}
	if len(orders) != 2 || orders[0] != "A PAR - BUR" {
		t.Errorf("unexpected orders %v", orders)
	}
	if seenPower != "FRANCE" || seenModel != "test-model" {
		t.Errorf("request fields not forwarded: power=%q model=%q", seenPower, seenModel)
	}
}

func TestGrpcClient_DecideMessages(t *testing.T) {
	client := startDecisionServer(t, &fakeDecisionService{
		messages: func(*structpb.Struct) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]any{"messages": []any{
				map[string]any{"content": "Shall we split the Low Countries?", "message_type": "private", "recipient": "GERMANY"},
				map[string]any{"content": "Peace to all.", "message_type": "global"},
			}})
		},
	})

	got, err := client.DecideMessages(context.Background(), Request{Power: "FRANCE", Phase: "S1901M"})
	if err != nil {
		t.Fatalf("DecideMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(got))
	}
	if got[0].Type != MessagePrivate || got[0].Recipient != "GERMANY" {
		t.Errorf("unexpected first proposal %+v", got[0])
	}
	if got[1].Type != MessageBroadcast {
		t.Errorf("unexpected second proposal %+v", got[1])
	}
}

func TestGrpcClient_MalformedResponseIsDecisionError(t *testing.T) {
	client := startDecisionServer(t, &fakeDecisionService{
		orders: func(*structpb.Struct) (*structpb.Struct, error) {
			return mustStruct(t, map[string]any{"orders": "A PAR H"}), nil
		},
	})

	_, err := client.DecideOrders(context.Background(), Request{Power: "FRANCE"})
	if !errors.Is(err, domain.ErrDecision) {
		t.Errorf("expected ErrDecision, got %v", err)
	}
}

func TestGrpcClient_StatusCodeClassification(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.Unavailable, domain.ErrTransportConnection},
		{codes.DeadlineExceeded, domain.ErrTransportTimeout},
		{codes.Internal, domain.ErrDecision},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			client := startDecisionServer(t, &fakeDecisionService{
				orders: func(*structpb.Struct) (*structpb.Struct, error) {
					return nil, status.Error(tt.code, "boom")
				},
			})
			_, err := client.DecideOrders(context.Background(), Request{Power: "FRANCE"})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
