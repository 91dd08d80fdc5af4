package tasks

// DefineTasks registers all available tasks
func DefineTasks(r *Registry) {
	// Register payment tasks
	r.Register(RepairFreePaymentTask.TaskID(), RepairFreePaymentTask.HandleExecution)

	// Register notification tasks
	r.Register(EnrollmentReceiptTask.TaskID(), EnrollmentReceiptTask.HandleExecution)

	// Register maintenance tasks
	r.Register(PruneCallbackHistoryTask.TaskID(), PruneCallbackHistoryTask.HandleExecution)
}
