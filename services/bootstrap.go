package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"user-directory/auth"
	"user-directory/config"
)

// systemPrincipal authorizes work the service does on its own behalf.
var systemPrincipal = &auth.Principal{Username: "system"}

// SeedBootstrapAdmin creates the configured admin account when it does not
// exist yet, so a fresh directory has someone to mint tokens for. It reports
// whether a user was created.
func SeedBootstrapAdmin(ctx context.Context, svc UserService, admin config.BootstrapAdmin, log *zap.Logger) (bool, error) {
	if admin.Username == "" || admin.Password == "" {
		return false, nil
	}

	_, err := svc.CreateUser(ctx, systemPrincipal, &CreateUserInput{
		Username: admin.Username,
		Password: admin.Password,
		Roles:    RoleList(admin.Roles),
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) && svcErr.Kind == KindConflict {
			log.Debug("Bootstrap admin already exists", zap.String("username", admin.Username))
			return false, nil
		}
		return false, err
	}

	log.Info("Created bootstrap admin user", zap.String("username", admin.Username), zap.Strings("roles", admin.Roles))
	return true, nil
}
