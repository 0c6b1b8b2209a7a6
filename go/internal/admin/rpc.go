package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// AdminServiceName is the fully-qualified name of the admin RPC service
const AdminServiceName = "seatboard.admin.v1.AdminService"

// Procedure paths of the admin RPC service
const (
	ListUsersProcedure  = "/" + AdminServiceName + "/ListUsers"
	SetRoleProcedure    = "/" + AdminServiceName + "/SetRole"
	ToggleRoleProcedure = "/" + AdminServiceName + "/ToggleRole"
)

type ListUsersRequest struct{}

type ListUsersResponse struct {
	Users []User `json:"users"`
}

type SetRoleRequest struct {
	UID  string    `json:"uid"`
	Role auth.Role `json:"role"`
}

type SetRoleResponse struct {
	Role auth.Role `json:"role"`
}

type ToggleRoleRequest struct {
	UID string `json:"uid"`
}

type ToggleRoleResponse struct {
	Role auth.Role `json:"role"`
}

// AdminServiceHandler is the server side of the admin RPC service
type AdminServiceHandler interface {
	ListUsers(context.Context, *connect.Request[ListUsersRequest]) (*connect.Response[ListUsersResponse], error)
	SetRole(context.Context, *connect.Request[SetRoleRequest]) (*connect.Response[SetRoleResponse], error)
	ToggleRole(context.Context, *connect.Request[ToggleRoleRequest]) (*connect.Response[ToggleRoleResponse], error)
}

// JSONCodec carries the admin messages as plain JSON. The messages are Go
// structs, not protobuf types, so connect's default codecs cannot serve them.
type JSONCodec struct {
	name string
}

func (c JSONCodec) Name() string { return c.name }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CodecOptions registers JSONCodec for both JSON content types. Clients
// pass the same options.
func CodecOptions() []connect.Option {
	return []connect.Option{
		connect.WithCodec(JSONCodec{name: "json"}),
		connect.WithCodec(JSONCodec{name: "json; charset=utf-8"}),
	}
}

// NewAdminServiceHandler builds an HTTP handler for the admin RPC service and
// returns the path to mount it on
func NewAdminServiceHandler(svc AdminServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	var all []connect.HandlerOption
	for _, o := range CodecOptions() {
		all = append(all, o)
	}
	all = append(all, opts...)

	listUsers := connect.NewUnaryHandler(ListUsersProcedure, svc.ListUsers, all...)
	setRole := connect.NewUnaryHandler(SetRoleProcedure, svc.SetRole, all...)
	toggleRole := connect.NewUnaryHandler(ToggleRoleProcedure, svc.ToggleRole, all...)

	return "/" + AdminServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ListUsersProcedure:
			listUsers.ServeHTTP(w, r)
		case SetRoleProcedure:
			setRole.ServeHTTP(w, r)
		case ToggleRoleProcedure:
			toggleRole.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RPCServer implements the admin RPC service on top of Service
type RPCServer struct {
	service *Service
}

// Verify that RPCServer implements the AdminServiceHandler interface
var _ AdminServiceHandler = (*RPCServer)(nil)

func NewRPCServer(service *Service) *RPCServer {
	return &RPCServer{service: service}
}

// ListUsers returns every user ordered by email
func (s *RPCServer) ListUsers(ctx context.Context, req *connect.Request[ListUsersRequest]) (*connect.Response[ListUsersResponse], error) {
	users, err := s.service.ListUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list users")
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ListUsersResponse{Users: users}), nil
}

// SetRole stores a role for a user
func (s *RPCServer) SetRole(ctx context.Context, req *connect.Request[SetRoleRequest]) (*connect.Response[SetRoleResponse], error) {
	if err := s.service.SetRole(ctx, req.Msg.UID, req.Msg.Role); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetRoleResponse{Role: req.Msg.Role}), nil
}

// ToggleRole flips a user between user and admin
func (s *RPCServer) ToggleRole(ctx context.Context, req *connect.Request[ToggleRoleRequest]) (*connect.Response[ToggleRoleResponse], error) {
	role, err := s.service.ToggleRole(ctx, req.Msg.UID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ToggleRoleResponse{Role: role}), nil
}

// RequireAdmin rejects calls from users whose stored role cannot manage
// users. The identity must already be on the context.
func (s *RPCServer) RequireAdmin() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			id, ok := auth.FromContext(ctx)
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrUnauthenticated)
			}
			role, err := s.service.ResolveRole(ctx, id.UID)
			if err != nil {
				log.Error().Err(err).Str("uid", id.UID).Msg("failed to resolve role")
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			if !auth.Resolve(role, auth.ModeAdmin).ManageUsers {
				return nil, connect.NewError(connect.CodePermissionDenied, errors.New("admin role required"))
			}
			return next(ctx, req)
		}
	}
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidRole):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		log.Error().Err(err).Msg("admin operation failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}
