package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 64 << 10

// errorBody is the HTTP rendering of a failed call.
type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type route struct {
	method, pattern string
	handler         runtime.HandlerFunc
}

// HTTPHandler builds the HTTP/JSON surface. Requests run through the same
// interceptors as gRPC calls so auth, rate limits and metrics agree.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux(runtime.WithErrorHandler(writeError))
	m := s.market

	routes := []route{
		{"POST", "/v1/ops/{op_type}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(r.Context(), mux, nil, w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			req := &SubmitRequest{OpType: p["op_type"], Payload: body}
			m.serveHTTP(mux, w, r, "Submit", req, func(ctx context.Context, req any) (any, error) {
				return m.Submit(ctx, req.(*SubmitRequest))
			})
		}},
		{"GET", "/v1/slots/{slot_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			m.serveHTTP(mux, w, r, "GetSlot", &GetSlotRequest{SlotID: p["slot_id"]}, func(ctx context.Context, req any) (any, error) {
				return m.GetSlot(ctx, req.(*GetSlotRequest))
			})
		}},
		{"GET", "/v1/balances/{owner}/{asset}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			m.serveHTTP(mux, w, r, "GetBalance", &GetBalanceRequest{Owner: p["owner"], Asset: p["asset"]}, func(ctx context.Context, req any) (any, error) {
				return m.GetBalance(ctx, req.(*GetBalanceRequest))
			})
		}},
		{"GET", "/v1/profiles/{profile_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			m.serveHTTP(mux, w, r, "GetProfile", &GetProfileRequest{ProfileID: p["profile_id"]}, func(ctx context.Context, req any) (any, error) {
				return m.GetProfile(ctx, req.(*GetProfileRequest))
			})
		}},
		{"GET", "/v1/sequence", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			m.serveHTTP(mux, w, r, "GetSequence", &GetSequenceRequest{}, func(ctx context.Context, req any) (any, error) {
				return m.GetSequence(ctx, req.(*GetSequenceRequest))
			})
		}},
	}
	if s.healthChecker != nil {
		routes = append(routes,
			route{"GET", "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				s.healthChecker.LivenessHandler(w, r)
			}},
			route{"GET", "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				s.healthChecker.ReadinessHandler(w, r)
			}},
		)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// serveHTTP runs one call through the interceptor chain the gRPC server uses.
func (m *marketService) serveHTTP(mux *runtime.ServeMux, w http.ResponseWriter, r *http.Request, method string, req any, call grpc.UnaryHandler) {
	ctx := r.Context()
	if auth := r.Header.Get("Authorization"); auth != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", auth))
	}
	if addr, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
		ctx = peer.NewContext(ctx, &peer.Peer{Addr: addr})
	}

	info := &grpc.UnaryServerInfo{Server: m, FullMethod: "/" + ServiceName + "/" + method}
	resp, err := m.metricsInterceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return m.authInterceptor(ctx, req, info, call)
	})
	if err != nil {
		writeError(ctx, mux, nil, w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError renders a status as JSON with the matching HTTP code. It has the
// runtime.ErrorHandlerFunc shape so the mux uses it for routing failures too.
func writeError(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, err error) {
	var routing *runtime.HTTPStatusError
	if errors.As(err, &routing) {
		err = routing.Err
	}
	st, ok := status.FromError(err)
	if !ok {
		st = status.New(codes.Internal, err.Error())
	}
	httpCode := runtime.HTTPStatusFromCode(st.Code())
	if routing != nil {
		httpCode = routing.HTTPStatus
	}

	body := errorBody{Code: "internal", Status: st.Code().String(), Message: st.Message()}
	if st.Code() != codes.Internal {
		body.Code = "request_failed"
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			body.Code = info.Reason
			body.Kind = info.Metadata["kind"]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(body)
}
