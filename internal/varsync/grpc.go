package varsync

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	variableServiceName  = "cartridge.params.v1.VariableService"
	getVariablesMethod   = "GetVariables"
	getVariablesFullName = "/" + variableServiceName + "/" + getVariablesMethod
	fieldNames           = "names"
	fieldVersion         = "version"
	fieldValues          = "values"
)

// VariableServer is the server API of the variable service.
type VariableServer interface {
	GetVariables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// VariableService serves a Source over gRPC. Requests and responses are
// structpb messages: {"names": [...]} in, {"version": n, "values": {...}} out.
type VariableService struct {
	source Source
}

// NewVariableService creates a gRPC service backed by source.
func NewVariableService(source Source) *VariableService {
	return &VariableService{source: source}
}

// Register attaches the service to a gRPC server.
func (s *VariableService) Register(server *grpc.Server) {
	server.RegisterService(&variableServiceDesc, s)
}

// GetVariables implements VariableServer.
func (s *VariableService) GetVariables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	names, err := decodeNames(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	snapshot, err := s.source.Variables(ctx, names)
	switch {
	case errors.Is(err, ErrNotReady):
		return nil, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrUnknownVariable):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

var variableServiceDesc = grpc.ServiceDesc{
	ServiceName: variableServiceName,
	HandlerType: (*VariableServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: getVariablesMethod,
			Handler:    getVariablesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "params/v1/variables.proto",
}

func getVariablesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VariableServer).GetVariables(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getVariablesFullName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VariableServer).GetVariables(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCSource is a Source that pulls from a remote VariableService.
type GRPCSource struct {
	conn *grpc.ClientConn
}

// DialGRPCSource connects to a variable service at addr.
func DialGRPCSource(addr string, opts ...grpc.DialOption) (*GRPCSource, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to variable service at %s: %w", addr, err)
	}
	return &GRPCSource{conn: conn}, nil
}

// Variables implements Source.
func (g *GRPCSource) Variables(ctx context.Context, names []string) (Snapshot, error) {
	req, err := encodeNames(names)
	if err != nil {
		return Snapshot{}, err
	}
	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, getVariablesFullName, req, resp); err != nil {
		switch status.Code(err) {
		case codes.Unavailable:
			// Unavailable also covers transport failures; only the server's
			// own not-ready message maps back to ErrNotReady.
			if status.Convert(err).Message() == ErrNotReady.Error() {
				return Snapshot{}, ErrNotReady
			}
		case codes.NotFound:
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownVariable, status.Convert(err).Message())
		}
		return Snapshot{}, fmt.Errorf("failed to get variables: %w", err)
	}
	return decodeSnapshot(resp)
}

// Close closes the underlying connection.
func (g *GRPCSource) Close() error {
	return g.conn.Close()
}

func encodeNames(names []string) (*structpb.Struct, error) {
	list := make([]interface{}, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]interface{}{fieldNames: list})
}

func decodeNames(req *structpb.Struct) ([]string, error) {
	value, ok := req.GetFields()[fieldNames]
	if !ok {
		return nil, nil
	}
	list := value.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s must be a list", fieldNames)
	}
	names := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%s must contain strings", fieldNames)
		}
		names = append(names, s.StringValue)
	}
	return names, nil
}

func encodeSnapshot(snapshot Snapshot) (*structpb.Struct, error) {
	values := make(map[string]interface{}, len(snapshot.Values))
	for name, vec := range snapshot.Values {
		list := make([]interface{}, len(vec))
		for i, x := range vec {
			list[i] = x
		}
		values[name] = list
	}
	return structpb.NewStruct(map[string]interface{}{
		fieldVersion: float64(snapshot.Version),
		fieldValues:  values,
	})
}

func decodeSnapshot(resp *structpb.Struct) (Snapshot, error) {
	fields := resp.GetFields()
	version, ok := fields[fieldVersion]
	if !ok {
		return Snapshot{}, fmt.Errorf("response has no %s", fieldVersion)
	}
	snapshot := Snapshot{
		Version: int64(version.GetNumberValue()),
		Values:  make(map[string][]float64),
	}
	for name, v := range fields[fieldValues].GetStructValue().GetFields() {
		list := v.GetListValue()
		if list == nil {
			return Snapshot{}, fmt.Errorf("variable %s is not a list", name)
		}
		vec := make([]float64, len(list.GetValues()))
		for i, x := range list.GetValues() {
			vec[i] = x.GetNumberValue()
		}
		snapshot.Values[name] = vec
	}
	return snapshot, nil
}
