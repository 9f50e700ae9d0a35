// Package engine moves configuration entities between live systems and
// portable export documents.
//
// # Overview
//
// The engine works in three directions:
//
//  1. Export - read entities through a Reader and serialize them, optionally
//     with their dependencies, into an ExportDocument (Exporter).
//  2. Import - apply a document to a Target in dependency order, resolving
//     id and display-name collisions (Importer).
//  3. Orphans - find authentication nodes no tree can reach (OrphanDetector).
//
// # Core Domain Types
//
//   - Skeleton: one remote entity; its Payload is one of Script, Node, Tree,
//     OAuth2Client, SecretStore, Policy, ResourceType or Variable
//   - ExportDocument: {"meta": ExportMetaData, "<type>": {id: object}}
//   - DependencyRef: an outgoing reference found by ResolveDependencies
//   - PlanUnit / ImportPlan: the dependency-ordered entities of an import
//   - Result: the outcome of applying one entity
//
// # Target Interface
//
// Systems are reached through the Reader and Writer interfaces; the REST
// implementation lives in pkg/transports/rest:
//
//	type Reader interface {
//	    List(ctx context.Context, t EntityType, scope Scope) iter.Seq2[Skeleton, error]
//	    Get(ctx context.Context, t EntityType, scope Scope, id string) (Skeleton, error)
//	    Find(ctx context.Context, t EntityType, scope Scope, id string) (*Skeleton, error)
//	    NodeTypes(ctx context.Context, scope Scope) ([]string, error)
//	    ListSubresources(ctx context.Context, parent Skeleton, scope Scope) ([]Subresource, error)
//	}
//
// # Import
//
// Importer.Apply yields one Result per entity. The import mode decides what
// happens on failure:
//
//   - ModeFailFast: stop at the first failure (Import)
//   - ModeBestEffort: report every failure and continue (ImportWithCallback)
//   - ModeCollect: continue and fold all failures into one error (ImportAll)
//
// Each entity runs through the ImportState machine: an existing id turns a
// create into an update, and a display-name collision retries under
// NextName unless NoRename is set.
//
// # Errors
//
// Every failure is an *Error (a message with causes) or a *NetworkError.
// Rendering indents each cause two spaces below its parent:
//
//	Error importing script s1
//	  Network error:
//	    URL: https://am.example.com/am/json/realms/root/realms/alpha/scripts/s1
//	    Status: 409
//
// Classification is available through errors.Is against the Err* sentinels
// and through KindOf.
package engine
