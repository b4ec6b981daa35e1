// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first (via godotenv) without
// overriding variables already set in the process environment.
//
// Stripe-backed paid plans are only enabled when all four of
// STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, BASIC_PLAN_PRICE_ID and
// PRO_PLAN_PRICE_ID are present. The flag is computed once here and never
// re-evaluated per request.
package config
