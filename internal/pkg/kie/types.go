package kie

// State is the provider job state collapsed to what the reconciler acts on.
type State string

const (
	StateWaiting State = "waiting"
	StateSuccess State = "success"
	StateFail    State = "fail"
)

// Status is a parsed job status. ResultURL is set only for StateSuccess,
// ErrorMessage only for StateFail.
type Status struct {
	TaskID       string
	State        State
	ResultURL    string
	ErrorMessage string
}

// CreateTaskRequest is the input for a single image-to-image job.
type CreateTaskRequest struct {
	Prompt      string
	ImageURL    string
	CallbackURL string
}

// Callback is a provider job-completion notification.
type Callback struct {
	Code   int
	Msg    string
	Status Status
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfo struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
}

type resultPayload struct {
	ResultURLs []string `json:"resultUrls"`
}

type createTaskBody struct {
	Model       string         `json:"model"`
	Input       createTaskArgs `json:"input"`
	CallBackURL string         `json:"callBackUrl,omitempty"`
}

type createTaskArgs struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
	OutputFormat string   `json:"output_format"`
}
