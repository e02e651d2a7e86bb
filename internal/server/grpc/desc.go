package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "passvault.v1.Vault"

// Method names of the Vault service.
const (
	MethodRegister         = "Register"
	MethodLogin            = "Login"
	MethodRefresh          = "Refresh"
	MethodLogout           = "Logout"
	MethodMe               = "Me"
	MethodCreateCredential = "CreateCredential"
	MethodListCredentials  = "ListCredentials"
	MethodRevealCredential = "RevealCredential"
	MethodUpdateCredential = "UpdateCredential"
	MethodDeleteCredential = "DeleteCredential"
	MethodGeneratePassword = "GeneratePassword"
)

// FullMethod returns "/passvault.v1.Vault/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// VaultServer is the server API for the Vault service. Every message is a
// google.protobuf.Struct.
type VaultServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCredentials(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevealCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GeneratePassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structHandler func(VaultServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call structHandler) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServer), ctx, req.(*structpb.Struct))
			}
			return ic(ctx, in, info, h)
		},
	}
}

// VaultServiceDesc describes the Vault service for grpc.Server.RegisterService.
var VaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegister, VaultServer.Register),
		unary(MethodLogin, VaultServer.Login),
		unary(MethodRefresh, VaultServer.Refresh),
		unary(MethodLogout, VaultServer.Logout),
		unary(MethodMe, VaultServer.Me),
		unary(MethodCreateCredential, VaultServer.CreateCredential),
		unary(MethodListCredentials, VaultServer.ListCredentials),
		unary(MethodRevealCredential, VaultServer.RevealCredential),
		unary(MethodUpdateCredential, VaultServer.UpdateCredential),
		unary(MethodDeleteCredential, VaultServer.DeleteCredential),
		unary(MethodGeneratePassword, VaultServer.GeneratePassword),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "passvault/v1/vault.proto",
}

// RegisterVaultServer registers srv on s.
func RegisterVaultServer(s grpc.ServiceRegistrar, srv VaultServer) {
	s.RegisterService(&VaultServiceDesc, srv)
}

// Client calls Vault methods over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes method with in and returns the response message.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
