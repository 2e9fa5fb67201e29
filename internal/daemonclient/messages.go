package daemonclient

const (
	serviceName = "qrexec.daemonclient.Trigger"

	methodTriggerConnectExisting = "/" + serviceName + "/TriggerConnectExisting"
	methodProceedWithExecution   = "/" + serviceName + "/ProceedWithExecution"
)

// triggerConnectExistingRequest carries the filled
// trigger_connect_params, including the server-assigned ident
// (spec.md §6's MSG_AGENT_TO_SERVER_TRIGGER_CONNECT_EXISTING).
type triggerConnectExistingRequest struct {
	Ident        string `json:"ident"`
	ExecIndex    string `json:"exec_index"`
	TargetVMName string `json:"target_vmname"`
}

type triggerConnectExistingResponse struct{}

// proceedWithExecutionRequest is the daemon's verdict delivery
// (spec.md §6's ProceedWithExecution(client_id, ident)).
type proceedWithExecutionRequest struct {
	ClientID uint64 `json:"client_id"`
	Ident    string `json:"ident"`
}

type proceedWithExecutionResponse struct {
	Result string `json:"result"`
}
