package controller

import (
	"context"
	"fmt"
	"strings"

	"Helix/internal/backend"
)

// Friends returns friends, pending requests and conversations.
func (c *Controller) Friends(ctx context.Context) (backend.FriendsResponse, error) {
	email, err := c.requireLogin()
	if err != nil {
		return backend.FriendsResponse{}, err
	}
	resp, err := c.api.Friends(ctx, email)
	if err != nil {
		return backend.FriendsResponse{}, fmt.Errorf("failed to load friends: %w", err)
	}
	return resp, nil
}

// OpenConversation selects a direct message thread and returns it.
func (c *Controller) OpenConversation(ctx context.Context, contactID string) ([]backend.DMMessage, error) {
	if _, err := c.requireLogin(); err != nil {
		return nil, err
	}
	msgs, err := c.api.LoadDM(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	c.mu.Lock()
	c.sc.ContactID = contactID
	c.mu.Unlock()
	return msgs, nil
}

// SendMessage posts text to the open conversation.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if _, err := c.requireLogin(); err != nil {
		return err
	}

	c.mu.Lock()
	contactID := c.sc.ContactID
	c.mu.Unlock()
	if contactID == "" {
		return ErrNoContact
	}

	if err := c.api.SendDM(ctx, contactID, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Profile returns the user's profile.
func (c *Controller) Profile(ctx context.Context) (backend.Profile, error) {
	email, err := c.requireLogin()
	if err != nil {
		return backend.Profile{}, err
	}
	p, err := c.api.Profile(ctx, email)
	if err != nil {
		return backend.Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// UpdateProfile applies edit to the current profile and saves it. Fields
// edit leaves alone are written back unchanged.
func (c *Controller) UpdateProfile(ctx context.Context, edit func(p *backend.Profile)) error {
	email, err := c.requireLogin()
	if err != nil {
		return err
	}
	p, err := c.api.Profile(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	edit(&p)

	err = c.api.SaveProfile(ctx, backend.SaveProfileRequest{
		Email:       email,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		AvatarPath:  p.AvatarPath,
	})
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	c.logger.Info("profile saved", "email", email)
	return nil
}

// AddFriend sends a friend request to target.
func (c *Controller) AddFriend(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyInput
	}
	email, err := c.requireLogin()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(target, email) {
		return "", fmt.Errorf("cannot add yourself as a friend")
	}
	msg, err := c.api.AddFriend(ctx, email, target)
	if err != nil {
		return "", fmt.Errorf("failed to add friend: %w", err)
	}
	return msg, nil
}

// AcceptFriend accepts the pending request requestID.
func (c *Controller) AcceptFriend(ctx context.Context, requestID string) error {
	if _, err := c.requireLogin(); err != nil {
		return err
	}
	if err := c.api.AcceptFriend(ctx, requestID); err != nil {
		return fmt.Errorf("failed to accept friend request: %w", err)
	}
	c.logger.Info("friend request accepted", "request_id", requestID)
	return nil
}
