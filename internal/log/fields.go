package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldJob            = "job"
	FieldAsOf           = "as_of"
	FieldCount          = "count"
	FieldDuration       = "duration"
	FieldBillingCycle   = "billing_cycle"
	FieldBillingCycleID = "billing_cycle_id"
	FieldRecurringCost  = "recurring_cost_id"
	FieldHousemate      = "housemate"
	FieldAccount        = "account_id"
	FieldTransaction    = "transaction_id"
	FieldStatementLine  = "statement_line_id"
	FieldMessageID      = "message_id"
	FieldSheetsRef      = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentCLI       = "cli"
	ComponentBilling   = "billing"
	ComponentCosts     = "costs"
	ComponentLedger    = "ledger"
	ComponentNotify    = "notify"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentScheduler = "scheduler"
)

// Operations defines standard operation names
const (
	OpPopulate       = "populate"
	OpEnact          = "enact"
	OpReconciliation = "reconciliation"
	OpStatements     = "statements"
	OpShutdown       = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithBillingCycle adds the cycle id and its date range.
func (f LogFields) WithBillingCycle(id, rng string) LogFields {
	f[FieldBillingCycleID] = id
	f[FieldBillingCycle] = rng
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
