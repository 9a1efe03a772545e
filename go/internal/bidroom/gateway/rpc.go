package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// BidRoomServiceName is the fully-qualified name of the BidRoomService service.
	BidRoomServiceName = "bidroom.v1.BidRoomService"

	BidRoomServiceJoinProcedure     = "/bidroom.v1.BidRoomService/Join"
	BidRoomServicePlaceBidProcedure = "/bidroom.v1.BidRoomService/PlaceBid"
	BidRoomServiceLeaveProcedure    = "/bidroom.v1.BidRoomService/Leave"
	BidRoomServiceGetRoomProcedure  = "/bidroom.v1.BidRoomService/GetRoom"
)

// jsonCodec carries the RPC messages as plain JSON. It replaces connect's protojson codec, so
// "application/json" requests decode straight into the Go structs below.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) { return json.Marshal(message) }

func (jsonCodec) Unmarshal(data []byte, message any) error { return json.Unmarshal(data, message) }

type JoinRequest struct {
	RoomID        string          `json:"roomId"`
	UserID        string          `json:"userId"`
	DisplayName   string          `json:"displayName"`
	Role          string          `json:"role"`
	ConnectionID  string          `json:"connectionId"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
}

type JoinResponse struct {
	Room events.RoomStatePayload `json:"room"`
}

type PlaceBidRequest struct {
	RoomID       string          `json:"roomId"`
	UserID       string          `json:"userId"`
	DisplayName  string          `json:"displayName"`
	Amount       decimal.Decimal `json:"amount"`
	ConnectionID string          `json:"connectionId"`
}

type PlaceBidResponse = BidResult

type LeaveRequest struct {
	ConnectionID string `json:"connectionId"`
}

type LeaveResponse struct {
	Rooms []string `json:"rooms"`
}

type GetRoomRequest struct {
	RoomID string `json:"roomId"`
}

type GetRoomResponse struct {
	Room events.RoomStatePayload `json:"room"`
}

// BidRoomServiceHandler is implemented by the server side of BidRoomService
type BidRoomServiceHandler interface {
	Join(context.Context, *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error)
	PlaceBid(context.Context, *connect.Request[PlaceBidRequest]) (*connect.Response[PlaceBidResponse], error)
	Leave(context.Context, *connect.Request[LeaveRequest]) (*connect.Response[LeaveResponse], error)
	GetRoom(context.Context, *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error)
}

// NewBidRoomServiceHandler builds an HTTP handler from the service implementation. It returns the
// path on which to mount the handler and the handler itself.
func NewBidRoomServiceHandler(svc BidRoomServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	joinHandler := connect.NewUnaryHandler(BidRoomServiceJoinProcedure, svc.Join, opts...)
	placeBidHandler := connect.NewUnaryHandler(BidRoomServicePlaceBidProcedure, svc.PlaceBid, opts...)
	leaveHandler := connect.NewUnaryHandler(BidRoomServiceLeaveProcedure, svc.Leave, opts...)
	getRoomHandler := connect.NewUnaryHandler(BidRoomServiceGetRoomProcedure, svc.GetRoom, opts...)

	return "/" + BidRoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case BidRoomServiceJoinProcedure:
			joinHandler.ServeHTTP(w, r)
		case BidRoomServicePlaceBidProcedure:
			placeBidHandler.ServeHTTP(w, r)
		case BidRoomServiceLeaveProcedure:
			leaveHandler.ServeHTTP(w, r)
		case BidRoomServiceGetRoomProcedure:
			getRoomHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// BidRoomServiceClient is a client for BidRoomService
type BidRoomServiceClient struct {
	join     *connect.Client[JoinRequest, JoinResponse]
	placeBid *connect.Client[PlaceBidRequest, PlaceBidResponse]
	leave    *connect.Client[LeaveRequest, LeaveResponse]
	getRoom  *connect.Client[GetRoomRequest, GetRoomResponse]
}

// NewBidRoomServiceClient constructs a client for BidRoomService. baseURL is the server root,
// for example http://localhost:8080.
func NewBidRoomServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *BidRoomServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &BidRoomServiceClient{
		join:     connect.NewClient[JoinRequest, JoinResponse](httpClient, baseURL+BidRoomServiceJoinProcedure, opts...),
		placeBid: connect.NewClient[PlaceBidRequest, PlaceBidResponse](httpClient, baseURL+BidRoomServicePlaceBidProcedure, opts...),
		leave:    connect.NewClient[LeaveRequest, LeaveResponse](httpClient, baseURL+BidRoomServiceLeaveProcedure, opts...),
		getRoom:  connect.NewClient[GetRoomRequest, GetRoomResponse](httpClient, baseURL+BidRoomServiceGetRoomProcedure, opts...),
	}
}

func (c *BidRoomServiceClient) Join(ctx context.Context, req *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error) {
	return c.join.CallUnary(ctx, req)
}

func (c *BidRoomServiceClient) PlaceBid(ctx context.Context, req *connect.Request[PlaceBidRequest]) (*connect.Response[PlaceBidResponse], error) {
	return c.placeBid.CallUnary(ctx, req)
}

func (c *BidRoomServiceClient) Leave(ctx context.Context, req *connect.Request[LeaveRequest]) (*connect.Response[LeaveResponse], error) {
	return c.leave.CallUnary(ctx, req)
}

func (c *BidRoomServiceClient) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	return c.getRoom.CallUnary(ctx, req)
}

// RPCServer serves BidRoomService over the command gateway
type RPCServer struct {
	service *Service
}

// NewRPCServer creates the RPC front of the command gateway
func NewRPCServer(service *Service) *RPCServer {
	return &RPCServer{service: service}
}

func (s *RPCServer) Join(ctx context.Context, req *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error) {
	snap, err := s.service.Join(ctx, JoinCommand{
		RoomID:        req.Msg.RoomID,
		UserID:        req.Msg.UserID,
		DisplayName:   req.Msg.DisplayName,
		Role:          req.Msg.Role,
		ConnectionID:  req.Msg.ConnectionID,
		StartingPrice: req.Msg.StartingPrice,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JoinResponse{Room: snap}), nil
}

func (s *RPCServer) PlaceBid(ctx context.Context, req *connect.Request[PlaceBidRequest]) (*connect.Response[PlaceBidResponse], error) {
	result, err := s.service.PlaceBid(ctx, BidCommand{
		RoomID:       req.Msg.RoomID,
		UserID:       req.Msg.UserID,
		DisplayName:  req.Msg.DisplayName,
		Amount:       req.Msg.Amount,
		ConnectionID: req.Msg.ConnectionID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&result), nil
}

func (s *RPCServer) Leave(ctx context.Context, req *connect.Request[LeaveRequest]) (*connect.Response[LeaveResponse], error) {
	rooms, err := s.service.Leave(ctx, req.Msg.ConnectionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if rooms == nil {
		rooms = []string{}
	}
	return connect.NewResponse(&LeaveResponse{Rooms: rooms}), nil
}

func (s *RPCServer) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	snap, err := s.service.Snapshot(ctx, req.Msg.RoomID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRoomResponse{Room: snap}), nil
}

func toConnectError(err error) error {
	switch {
	case isInvalidArgument(err):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case isNotFound(err):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		log.Error().Err(err).Msg("bid room rpc failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}
