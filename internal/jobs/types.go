package jobs

const TaskDeployVersion = "cache:deploy_version"

// DefaultQueue is the asynq queue deploys are enqueued on.
const DefaultQueue = "deploys"

type DeployVersionPayload struct {
	Version string   `json:"version"`
	Assets  []string `json:"assets,omitempty"`
}
