package pd

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRegionExists indicates the region is already present in PD metadata.
	ErrRegionExists = errors.New("pd: region already registered")
	// ErrRegionNotFound indicates the region metadata is unknown to PD.
	ErrRegionNotFound = errors.New("pd: region not registered")
	// ErrStaleRegion indicates the reported region epoch is older than PD's.
	ErrStaleRegion = errors.New("pd: region epoch is stale")
	// ErrInvalidRegion indicates malformed region metadata.
	ErrInvalidRegion = errors.New("pd: invalid region")
)

// IsRegionExistsError reports whether err represents a region already existing.
func IsRegionExistsError(err error) bool {
	return matches(err, ErrRegionExists, codes.AlreadyExists)
}

// IsRegionNotFoundError reports whether err indicates missing region metadata.
func IsRegionNotFoundError(err error) bool {
	return matches(err, ErrRegionNotFound, codes.NotFound)
}

// IsStaleRegionError reports whether err indicates a stale region epoch.
func IsStaleRegionError(err error) bool {
	return matches(err, ErrStaleRegion, codes.FailedPrecondition)
}

func matches(err, sentinel error, code codes.Code) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return st.Code() == code
	}
	return false
}

// ToStatus maps PD sentinel errors onto gRPC status codes.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrRegionExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrRegionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrStaleRegion):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrInvalidRegion):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
