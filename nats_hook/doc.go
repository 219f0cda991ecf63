// Package natshook publishes genqueue lifecycle events to NATS. When
// registered as an extension it publishes one JSON message per lifecycle
// point on subjects of the form <prefix>.job.<event>.
//
// Usage:
//
//	nc, _ := natshook.Connect(os.Getenv("NATS_URL"))
//	hook := natshook.New(nc, natshook.WithSubjectPrefix("genqueue"))
//	engine.WithExtension(hook)
//
// To restrict which events are published:
//
//	hook := natshook.New(nc,
//	    natshook.WithEvents(
//	        natshook.EventJobCompleted,
//	        natshook.EventJobFailed,
//	    ),
//	)
package natshook
