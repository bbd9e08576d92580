package deid

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName  = "clinai.deid.v1.Deidentifier"
	detectMethod = "/" + serviceName + "/Detect"
)

// DetectRequest asks the service to find identifiers in each text.
type DetectRequest struct {
	Texts       []string `json:"texts"`
	Sensitivity string   `json:"sensitivity"`
}

// Entity is one identifier span within Texts[TextIndex].
type Entity struct {
	Type      string  `json:"type"`
	TextIndex int     `json:"text_index"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Score     float64 `json:"score"`
}

type DetectResponse struct {
	Entities []Entity `json:"entities"`
}

// DetectorServer is implemented by de-identification backends.
type DetectorServer interface {
	Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error)
}

// RegisterDetectorServer registers impl on s. The server must be created
// with ServerOptions().
func RegisterDetectorServer(s grpc.ServiceRegistrar, impl DetectorServer) {
	s.RegisterService(&serviceDesc, impl)
}

// ServerOptions returns the options a server needs to speak this service.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectorServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}
