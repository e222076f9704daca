package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls LedgerService over a client connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) Credit(ctx context.Context, request *MovementRequest, options ...grpc.CallOption) (*MovementResponse, error) {
	return invoke[MovementResponse](ctx, client.conn, methodCredit, request, options)
}

func (client *Client) Debit(ctx context.Context, request *MovementRequest, options ...grpc.CallOption) (*MovementResponse, error) {
	return invoke[MovementResponse](ctx, client.conn, methodDebit, request, options)
}

func (client *Client) GetBalance(ctx context.Context, request *BalanceRequest, options ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, client.conn, methodGetBalance, request, options)
}

func (client *Client) ListTransactions(ctx context.Context, request *ListTransactionsRequest, options ...grpc.CallOption) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, client.conn, methodListTransactions, request, options)
}

func (client *Client) PlaceOrder(ctx context.Context, request *PlaceOrderRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, methodPlaceOrder, request, options)
}

func (client *Client) TransitionOrder(ctx context.Context, request *TransitionOrderRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, methodTransitionOrder, request, options)
}

func (client *Client) GetOrder(ctx context.Context, request *GetOrderRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, methodGetOrder, request, options)
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, method string, request any, options []grpc.CallOption) (*Response, error) {
	response := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
	if err := conn.Invoke(ctx, fullMethod(method), request, response, callOptions...); err != nil {
		return nil, err
	}
	return response, nil
}
