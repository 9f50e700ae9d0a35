// Package rest implements engine.Target over the JSON REST API of an
// access management deployment.
//
// Entities are addressed below /json/realms/root/realms/<realm>; variables
// live at /environment/variables and exist on cloud deployments only.
// Creates are sent as PUT with If-None-Match: * and updates as PUT with
// If-Match, so an existing id surfaces as HTTP 412 and a taken display name
// as HTTP 409. Every non-2xx response becomes an *engine.NetworkError.
//
// Example:
//
//	client, err := rest.NewClient(conn, rest.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	exporter := engine.NewExporter(client, conn, factory, engine.DefaultExportOptions())
package rest
