package scenario

import (
	"time"

	"github.com/ashureev/coordsim/internal/domain"
)

// Built-in scenario ids.
const (
	CustomerService      = "customer_service"
	BusinessIntelligence = "business_intelligence"
	DataPipeline         = "data_pipeline"
	IncidentResponse     = "incident_response"
)

func builtin() []domain.Scenario {
	return []domain.Scenario{
		{
			ID:          CustomerService,
			Name:        "Customer Service",
			Description: "A customer inquiry is escalated, researched by the backend and resolved.",
			Participants: []domain.Role{
				domain.RoleCoordinator, domain.RoleFrontend, domain.RoleBackend,
			},
			Steps: []domain.Step{
				{Role: domain.RoleFrontend, Action: domain.ActionReceiveInquiry},
				{Role: domain.RoleCoordinator, Action: domain.ActionAnalyzeInquiry},
				{Role: domain.RoleCoordinator, Action: domain.ActionDelegateLookup},
				{Role: domain.RoleBackend, Action: domain.ActionRetrieveRecords},
				{Role: domain.RoleBackend, Action: domain.ActionReportFindings},
				{Role: domain.RoleCoordinator, Action: domain.ActionApproveResolution},
				{Role: domain.RoleFrontend, Action: domain.ActionDeliverResolution},
			},
			EstimatedDuration: 15 * time.Second,
			Complexity:        domain.ComplexityMedium,
		},
		{
			ID:          BusinessIntelligence,
			Name:        "Business Intelligence",
			Description: "The coordinator plans a quarterly analysis, the backend gathers data and insights are synthesized.",
			Participants: []domain.Role{
				domain.RoleCoordinator, domain.RoleBackend, domain.RoleSystem,
			},
			Steps: []domain.Step{
				{Role: domain.RoleCoordinator, Action: domain.ActionFormulateStrategy},
				{Role: domain.RoleCoordinator, Action: domain.ActionDelegateCollection},
				{Role: domain.RoleBackend, Action: domain.ActionCollectData},
				{Role: domain.RoleSystem, Action: domain.ActionRecordThroughput},
				{Role: domain.RoleBackend, Action: domain.ActionShareAnalysis},
				{Role: domain.RoleCoordinator, Action: domain.ActionSynthesizeInsights},
			},
			EstimatedDuration: 13 * time.Second,
			Complexity:        domain.ComplexityHigh,
		},
		{
			ID:          DataPipeline,
			Name:        "Data Pipeline",
			Description: "A scheduled batch moves through validation, transformation and storage.",
			Participants: []domain.Role{
				domain.RoleCoordinator, domain.RoleBackend, domain.RoleSystem,
			},
			Steps: []domain.Step{
				{Role: domain.RoleCoordinator, Action: domain.ActionSchedulePipeline},
				{Role: domain.RoleBackend, Action: domain.ActionValidateInput},
				{Role: domain.RoleBackend, Action: domain.ActionTransformDataset},
				{Role: domain.RoleSystem, Action: domain.ActionPersistResults},
				{Role: domain.RoleSystem, Action: domain.ActionNotifyPipelineDone},
				{Role: domain.RoleCoordinator, Action: domain.ActionReviewPipeline},
			},
			EstimatedDuration: 12 * time.Second,
			Complexity:        domain.ComplexityLow,
		},
		{
			ID:           IncidentResponse,
			Name:         "Incident Response",
			Description:  "An automated alert triggers triage, mitigation and user communication.",
			Participants: domain.Roles(),
			Steps: []domain.Step{
				{Role: domain.RoleSystem, Action: domain.ActionRaiseAlert},
				{Role: domain.RoleCoordinator, Action: domain.ActionAssessSeverity},
				{Role: domain.RoleCoordinator, Action: domain.ActionAssignMitigation},
				{Role: domain.RoleCoordinator, Action: domain.ActionAssignCommunication},
				{Role: domain.RoleBackend, Action: domain.ActionApplyMitigation},
				{Role: domain.RoleFrontend, Action: domain.ActionNotifyAffectedUsers},
				{Role: domain.RoleBackend, Action: domain.ActionConfirmRecovery},
				{Role: domain.RoleCoordinator, Action: domain.ActionCloseIncident},
			},
			EstimatedDuration: 16 * time.Second,
			Complexity:        domain.ComplexityHigh,
		},
	}
}
