package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mealcredits.v1.LedgerService"

const (
	methodCredit           = "Credit"
	methodDebit            = "Debit"
	methodGetBalance       = "GetBalance"
	methodListTransactions = "ListTransactions"
	methodPlaceOrder       = "PlaceOrder"
	methodTransitionOrder  = "TransitionOrder"
	methodGetOrder         = "GetOrder"
)

// LedgerServiceServer is implemented by Server.
type LedgerServiceServer interface {
	Credit(context.Context, *MovementRequest) (*MovementResponse, error)
	Debit(context.Context, *MovementRequest) (*MovementResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderResponse, error)
	TransitionOrder(context.Context, *TransitionOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
}

// RegisterLedgerServiceServer attaches implementation to registrar.
func RegisterLedgerServiceServer(registrar grpc.ServiceRegistrar, implementation LedgerServiceServer) {
	registrar.RegisterService(&LedgerServiceDesc, implementation)
}

// LedgerServiceDesc describes the service for grpc.Server.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodCredit, Handler: unaryHandler(methodCredit, LedgerServiceServer.Credit)},
		{MethodName: methodDebit, Handler: unaryHandler(methodDebit, LedgerServiceServer.Debit)},
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, LedgerServiceServer.GetBalance)},
		{MethodName: methodListTransactions, Handler: unaryHandler(methodListTransactions, LedgerServiceServer.ListTransactions)},
		{MethodName: methodPlaceOrder, Handler: unaryHandler(methodPlaceOrder, LedgerServiceServer.PlaceOrder)},
		{MethodName: methodTransitionOrder, Handler: unaryHandler(methodTransitionOrder, LedgerServiceServer.TransitionOrder)},
		{MethodName: methodGetOrder, Handler: unaryHandler(methodGetOrder, LedgerServiceServer.GetOrder)},
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Request any, Response any](method string, call func(LedgerServiceServer, context.Context, *Request) (*Response, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		implementation := server.(LedgerServiceServer)
		if interceptor == nil {
			return call(implementation, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(implementation, ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}
