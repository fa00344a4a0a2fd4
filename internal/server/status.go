package server

import (
	"context"
	"errors"

	"TimeMarket/internal/core"
	"TimeMarket/internal/errs"
	"TimeMarket/internal/ingestion"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a failure to a gRPC status. Domain errors carry their stable
// code as ErrorInfo.Reason so HTTP and gRPC clients can branch on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ingestion.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ingestion.ErrCallerMismatch):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, core.ErrDedupUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	}

	de, ok := errs.As(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	st := status.New(codeFor(de), de.Error())
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   de.Code,
		Domain:   "timemarket",
		Metadata: map[string]string{"kind": de.Kind.String()},
	}); derr == nil {
		st = detailed
	}
	return st.Err()
}

func codeFor(de *errs.DomainError) codes.Code {
	switch de {
	case errs.ErrUnknownPlatform, errs.ErrUnknownProfile, errs.ErrUnknownSlot:
		return codes.NotFound
	case errs.ErrAlreadyExists:
		return codes.AlreadyExists
	}
	switch de.Kind {
	case errs.KindValidation:
		return codes.InvalidArgument
	case errs.KindStateMismatch, errs.KindCommitReveal:
		return codes.FailedPrecondition
	case errs.KindAuthorization:
		return codes.PermissionDenied
	case errs.KindCapacity:
		return codes.ResourceExhausted
	case errs.KindArithmetic:
		return codes.OutOfRange
	case errs.KindOrdering:
		return codes.Aborted
	}
	return codes.Unknown
}
