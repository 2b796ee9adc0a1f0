package ports

type FlowMetrics interface {
	RecordSuccess(flow string)
	RecordConflict(flow string)
	RecordFailure(flow string)
}
