package core

// Operation represents a storage operation performed on a resource
// collection, one of Create, Read, Update, Delete, List
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// Notifier receives a notification for every successful modifying
// operation on a resource. The payload is the JSON serialization of
// the affected resource, or nil for deletions.
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
