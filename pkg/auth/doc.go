// Package auth handles accounts and bearer tokens.
//
// Passwords are hashed with bcrypt. Tokens are HS256 JWTs carrying the user
// id and email, valid for seven days by default:
//
//	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
//	svc := auth.NewService(db, auth.NewPostgresStore(db), billingStore, tokens, bcrypt.DefaultCost)
//
//	user, token, err := svc.Register(ctx, "fox@example.com", "hunter2", "Fox")
//	user, token, err = svc.Login(ctx, "fox@example.com", "hunter2")
//	claims, err := tokens.Verify(token)
//
// Register creates the user and its free subscription in one transaction, so
// every account has exactly one subscription row from the start.
//
// AuditLogger writes security events (logins, registrations, rejected
// tokens) to the structured log with the client address.
package auth
