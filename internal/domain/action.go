package domain

// Step actions of the built-in scenarios. They double as dispatch keys.
const (
	ActionReceiveInquiry      = "Receive customer inquiry"
	ActionAnalyzeInquiry      = "Analyze inquiry complexity"
	ActionDelegateLookup      = "Delegate account lookup"
	ActionRetrieveRecords     = "Retrieve customer records"
	ActionReportFindings      = "Report account findings"
	ActionApproveResolution   = "Approve resolution plan"
	ActionDeliverResolution   = "Deliver resolution to customer"
	ActionFormulateStrategy   = "Formulate analysis strategy"
	ActionDelegateCollection  = "Delegate data collection"
	ActionCollectData         = "Collect business data"
	ActionRecordThroughput    = "Record processing throughput"
	ActionShareAnalysis       = "Share analysis results"
	ActionSynthesizeInsights  = "Synthesize insights"
	ActionSchedulePipeline    = "Schedule pipeline run"
	ActionValidateInput       = "Validate input data"
	ActionTransformDataset    = "Transform dataset"
	ActionPersistResults      = "Persist pipeline results"
	ActionNotifyPipelineDone  = "Notify pipeline completion"
	ActionReviewPipeline      = "Review pipeline outcome"
	ActionRaiseAlert          = "Raise incident alert"
	ActionAssessSeverity      = "Assess incident severity"
	ActionAssignMitigation    = "Assign mitigation task"
	ActionAssignCommunication = "Assign customer communication"
	ActionApplyMitigation     = "Apply mitigation"
	ActionNotifyAffectedUsers = "Notify affected users"
	ActionConfirmRecovery     = "Confirm service recovery"
	ActionCloseIncident       = "Close incident"
)
