// Package billing owns the per-user Subscription record and everything that
// mutates it from the payment provider's side.
//
// # Plans
//
//	free   5 generations / month    $0
//	basic  50 generations / month   $9.99
//	pro    unlimited                $19.99
//
// Paid plans are only offered when Stripe is fully configured. The catalog can
// be overridden from a YAML file that is reloaded on change.
//
// # Webhooks
//
// Stripe events are verified, decoded into one of the Event variants and run
// through Transition, which is pure. The resulting Update is applied by the
// store as a single conditional UPDATE keyed by a correlation id, inside the
// same transaction that records the event id in the billing_events ledger:
//
//	processor := billing.NewProcessor(store, billing.NewStripeEventParser(secret), catalog, opts)
//	if err := processor.HandleWebhook(ctx, body, r.Header.Get("Stripe-Signature")); err != nil {
//		var sigErr *billing.SignatureVerificationError
//		if errors.As(err, &sigErr) {
//			// 400, Stripe will not retry
//		}
//		// 500, Stripe retries
//	}
//
// # Checkout
//
//	session, err := checkout.CreateCheckout(ctx, userID, email, billing.PlanBasic, "")
//	http.Redirect(w, r, session.URL, http.StatusSeeOther)
//
// # Related Packages
//
//   - pkg/usage: quota enforcement on top of PostgresStore.ChargeGeneration
package billing
