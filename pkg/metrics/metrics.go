package metrics

/*
Labels and so on for metrics used in shipper.
*/

const (
	LabelService = "service"
	LabelSuccess = "success"
	LabelStage   = "stage"

	StagePublish = "publish"
	StageRollout = "rollout"
	StageVerify  = "verify"
)
