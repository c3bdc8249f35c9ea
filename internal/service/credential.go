package service

import (
	"context"

	"github.com/gotradegate/tradegate/internal/model"
)

// Credential is one of the closed set of auth modes a request may carry.
// Each variant knows how to verify itself against the AuthManager, so the
// composition root never branches on a mode string: an unhandled mode is a
// missing type, caught at compile time, not a silent fall-through to
// "unauthenticated".
type Credential interface {
	Verify(ctx context.Context, auth *AuthManager) (model.Identity, *model.Denial)
}

// invalidCredentials is the uniform refusal for every failed verification.
// It deliberately does not distinguish unknown from known-but-wrong
// credentials.
func invalidCredentials() *model.Denial {
	return &model.Denial{Code: model.CodeUnauthorized, Reason: "invalid credentials"}
}

// APIKeyCredential authenticates with a key/secret pair.
type APIKeyCredential struct {
	Key    string
	Secret string
}

func (c APIKeyCredential) Verify(ctx context.Context, auth *AuthManager) (model.Identity, *model.Denial) {
	record, ok := auth.VerifyKey(ctx, c.Key, c.Secret)
	if !ok {
		return model.Identity{}, invalidCredentials()
	}
	return model.Identity{UserID: record.OwnerID, Method: model.MethodAPIKey, Key: record.Key}, nil
}

// BearerCredential authenticates with a signed bearer token.
type BearerCredential struct {
	Token string
}

func (c BearerCredential) Verify(ctx context.Context, auth *AuthManager) (model.Identity, *model.Denial) {
	claims, ok := auth.VerifyToken(ctx, c.Token)
	if !ok {
		return model.Identity{}, invalidCredentials()
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return model.Identity{}, invalidCredentials()
	}
	return model.Identity{UserID: sub, Method: model.MethodBearer}, nil
}

// HMACCredential authenticates with a signed request: key, claimed
// timestamp, and an HMAC over the canonical payload.
type HMACCredential struct {
	Key       string
	Timestamp string
	Signature string
	Payload   map[string]any
}

func (c HMACCredential) Verify(ctx context.Context, auth *AuthManager) (model.Identity, *model.Denial) {
	record, ok := auth.VerifySignedRequest(ctx, c.Key, c.Timestamp, c.Signature, c.Payload)
	if !ok {
		return model.Identity{}, invalidCredentials()
	}
	return model.Identity{UserID: record.OwnerID, Method: model.MethodHMAC, Key: record.Key}, nil
}

// AnonymousCredential carries no identity. Only endpoints in the public
// namespace accept it.
type AnonymousCredential struct{}

func (AnonymousCredential) Verify(ctx context.Context, _ *AuthManager) (model.Identity, *model.Denial) {
	return model.Identity{Method: model.MethodAnonymous}, nil
}
