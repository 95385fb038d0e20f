// Package notify delivers phone check alerts by SMS through the voip.ms
// REST API.
//
// [SMSAlerter] retries transient failures with exponential backoff and
// trips a [CircuitBreaker] after repeated failures. While the circuit is
// open alerts are queued, and the queue is replayed after the next
// successful delivery:
//
//	alerter := notify.NewSMSAlerter(notify.SMSConfig{
//	    APIUser:     "user@example.com",
//	    APIPassword: "secret",
//	    DID:         "5551234567",
//	    Destination: "5559876543",
//	})
//	err := alerter.SendAlert(ctx, "PhoneCheck ALERT: Call did not connect - 503")
package notify
