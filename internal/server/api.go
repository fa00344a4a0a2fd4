package server

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/query"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service.
const ServiceName = "timemarket.v1.Market"

// Messages travel as JSON; clients select the codec with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type SubmitRequest struct {
	OpType  string          `json:"op_type"`
	Payload json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Sequence  int64          `json:"sequence"`
	StateHash string         `json:"state_hash"`
	Records   []event.Record `json:"records"`
	Mints     []MintView     `json:"mints,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// MintView is a collectible grant as returned to the submitter.
type MintView struct {
	SlotID    uuid.UUID `json:"slot_id"`
	Mint      uuid.UUID `json:"mint"`
	Recipient uuid.UUID `json:"recipient"`
	Authority uuid.UUID `json:"authority"`
	IssuedAt  int64     `json:"issued_at_us"`
}

type GetSlotRequest struct {
	SlotID string `json:"slot_id"`
}

type GetBalanceRequest struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type GetProfileRequest struct {
	ProfileID string `json:"profile_id"`
}

type GetSequenceRequest struct{}

type GetSequenceResponse struct {
	AsOfSequence int64 `json:"as_of_sequence"`
}

func newSubmitResponse(r *core.Receipt) *SubmitResponse {
	resp := &SubmitResponse{
		Sequence:  r.Sequence,
		StateHash: hex.EncodeToString(r.StateHash[:]),
		Records:   r.Records,
		Duplicate: r.Duplicate,
	}
	for _, g := range r.Mints {
		resp.Mints = append(resp.Mints, MintView{
			SlotID:    g.SlotID(),
			Mint:      g.Mint(),
			Recipient: g.Recipient(),
			Authority: g.Authority(),
			IssuedAt:  g.IssuedAt(),
		})
	}
	return resp
}

// MarketServer is the service implemented by this package.
type MarketServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetSlot(context.Context, *GetSlotRequest) (*query.SlotView, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceView, error)
	GetProfile(context.Context, *GetProfileRequest) (*query.ProfileView, error)
	GetSequence(context.Context, *GetSequenceRequest) (*GetSequenceResponse, error)
}

// unaryHandler adapts one typed method to grpc.MethodDesc.
func unaryHandler[Req any, Resp any](name string, call func(MarketServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketServer), ctx, req.(*Req))
			})
		},
	}
}

var marketServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Submit", MarketServer.Submit),
		unaryHandler("GetSlot", MarketServer.GetSlot),
		unaryHandler("GetBalance", MarketServer.GetBalance),
		unaryHandler("GetProfile", MarketServer.GetProfile),
		unaryHandler("GetSequence", MarketServer.GetSequence),
	},
	Metadata: "timemarket/v1/market.proto",
}

// RegisterMarketServer registers srv on s.
func RegisterMarketServer(s grpc.ServiceRegistrar, srv MarketServer) {
	s.RegisterService(&marketServiceDesc, srv)
}
