package controllers

import (
	"errors"
	"fmt"
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"

	"user-directory/auth"
	"user-directory/models"
	"user-directory/services"
)

// UserController serves the /users resource.
type UserController struct {
	userService   services.UserService
	authenticator *auth.Authenticator
	requiredRoles []string
	logger        *zap.Logger
}

// NewUserController creates a UserController. requiredRoles, when set, limits
// the resource to callers holding one of them.
func NewUserController(userService services.UserService, authenticator *auth.Authenticator, requiredRoles []string, logger *zap.Logger) *UserController {
	return &UserController{
		userService:   userService,
		authenticator: authenticator,
		requiredRoles: requiredRoles,
		logger:        logger.Named("users"),
	}
}

// UserResponse is the public view of a user. The password hash never leaves
// the service.
type UserResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Active   bool     `json:"active"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func mapModelToUserResponse(user *models.User) UserResponse {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Roles:    roles,
		Active:   user.Active,
	}
}

// RegisterRoutes sets up the user routes on a go-restful WebService. Every
// route requires a valid bearer token.
func (ctl *UserController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/users").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Filter(ctl.authenticator.AuthFilter())
	ws.Filter(auth.RequireRoles(ctl.requiredRoles...))

	tags := []string{"users"}

	ws.Route(ws.GET("").To(ctl.listUsersHandler).
		Doc("List all users").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]UserResponse{}).
		Returns(http.StatusOK, "Users listed successfully", []UserResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusNotFound, "No users found", MessageResponse{}))

	ws.Route(ws.POST("").To(ctl.createUserHandler).
		Doc("Create a user").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.CreateUserInput{}).
		Returns(http.StatusCreated, "User created", MessageResponse{}).
		Returns(http.StatusBadRequest, "Missing fields or create failed", MessageResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusConflict, "Username already exists", MessageResponse{}))

	ws.Route(ws.PATCH("").To(ctl.updateUserHandler).
		Doc("Replace a user's username, roles, active flag and optionally password").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.UpdateUserInput{}).
		Returns(http.StatusOK, "User updated", MessageResponse{}).
		Returns(http.StatusBadRequest, "Missing or invalid fields", MessageResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusNotFound, "User not found", MessageResponse{}).
		Returns(http.StatusConflict, "Username already exists", MessageResponse{}))

	ws.Route(ws.DELETE("").To(ctl.deleteUserHandler).
		Doc("Delete a user that has no notes").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.DeleteUserInput{}).
		Returns(http.StatusOK, "User deleted", "").
		Returns(http.StatusBadRequest, "Missing id or user has notes", MessageResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusNotFound, "User not found", MessageResponse{}))
}

// listUsersHandler (Handles GET /users)
func (ctl *UserController) listUsersHandler(request *restful.Request, response *restful.Response) {
	users, err := ctl.userService.ListUsers(request.Request.Context(), auth.PrincipalFromRequest(request))
	if err != nil {
		ctl.handleServiceError(response, err)
		return
	}

	userResponses := make([]UserResponse, len(users))
	for i := range users {
		userResponses[i] = mapModelToUserResponse(&users[i])
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, userResponses, restful.MIME_JSON)
}

// createUserHandler (Handles POST /users)
func (ctl *UserController) createUserHandler(request *restful.Request, response *restful.Response) {
	input := new(services.CreateUserInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := ctl.userService.CreateUser(request.Request.Context(), auth.PrincipalFromRequest(request), input)
	if err != nil {
		ctl.handleServiceError(response, err)
		return
	}

	writeMessage(response, http.StatusCreated, fmt.Sprintf("User %s created", user.Username))
}

// updateUserHandler (Handles PATCH /users)
func (ctl *UserController) updateUserHandler(request *restful.Request, response *restful.Response) {
	input := new(services.UpdateUserInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	updatedUser, err := ctl.userService.UpdateUser(request.Request.Context(), auth.PrincipalFromRequest(request), input)
	if err != nil {
		ctl.handleServiceError(response, err)
		return
	}

	writeMessage(response, http.StatusOK, fmt.Sprintf("%s updated", updatedUser.Username))
}

// deleteUserHandler (Handles DELETE /users)
func (ctl *UserController) deleteUserHandler(request *restful.Request, response *restful.Response) {
	input := new(services.DeleteUserInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	deleted, err := ctl.userService.DeleteUser(request.Request.Context(), auth.PrincipalFromRequest(request), input)
	if err != nil {
		ctl.handleServiceError(response, err)
		return
	}

	reply := fmt.Sprintf("%s with ID %s deleted", deleted.Username, deleted.ID)
	_ = response.WriteHeaderAndJson(http.StatusOK, reply, restful.MIME_JSON)
}

// --- Utility Functions ---

// handleServiceError translates service errors to HTTP responses. Anything
// the service did not classify is logged and hidden behind a 500.
func (ctl *UserController) handleServiceError(response *restful.Response, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		ctl.logger.Error("Unhandled service error", zap.Error(err))
		writeMessage(response, http.StatusInternalServerError, "An internal error occurred")
		return
	}

	if svcErr.Err != nil {
		ctl.logger.Warn("Service error", zap.Stringer("kind", svcErr.Kind), zap.Error(svcErr.Err))
	}
	writeMessage(response, statusForKind(svcErr.Kind), svcErr.Message)
}

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation, services.KindIntegrityGuard, services.KindCreateFailed:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeMessage(response *restful.Response, status int, message string) {
	_ = response.WriteHeaderAndJson(status, MessageResponse{Message: message}, restful.MIME_JSON)
}
