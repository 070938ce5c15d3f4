package backend

import (
	"context"

	"validatorgate/roles"
)

// RoleNotifier records committed role changes on the user record.
type RoleNotifier struct {
	Client *Client
}

// RoleChanged implements roles.Notifier.
func (n RoleNotifier) RoleChanged(ctx context.Context, change roles.Change) error {
	return n.Client.UpdateUserRole(ctx, change.UserID, RoleUpdate{
		Role:   change.Role,
		RoleID: change.RoleID,
		Action: string(change.Action),
	})
}

// RecordVerification implements verification.Recorder by upserting the user
// with the wallet it verified.
func (c *Client) RecordVerification(ctx context.Context, ownerID, wallet string, verified bool) error {
	_, err := c.UpsertUser(ctx, User{PlatformUserID: ownerID, Wallet: wallet, Verified: verified})
	return err
}
