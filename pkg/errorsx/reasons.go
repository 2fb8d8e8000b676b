package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonPermissionDenied       ReasonCode = "permission_denied"
	ReasonRecognitionUnavailable ReasonCode = "recognition_unavailable"
	ReasonRecognitionTransient   ReasonCode = "recognition_transient"
	ReasonRecognitionConnect     ReasonCode = "recognition_connect"
	ReasonRecognitionSend        ReasonCode = "recognition_send"

	ReasonSynthesisQuota   ReasonCode = "synthesis_quota"
	ReasonSynthesisFailed  ReasonCode = "synthesis_failed"
	ReasonSynthesisConnect ReasonCode = "synthesis_connect"

	ReasonReplyNetwork  ReasonCode = "reply_network"
	ReasonReplyUpstream ReasonCode = "reply_upstream"

	ReasonGatewaySend ReasonCode = "gateway_send"
)
