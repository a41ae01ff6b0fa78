package models

import (
	"fmt"
	"regexp"
)

var re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// PipelineId identifies one pipeline run: the forge host that posted
// the trigger plus a runner-assigned id.
type PipelineId struct {
	Host string
	Id   string
}

func (p PipelineId) String() string {
	return fmt.Sprintf("%s-%s", normalize(p.Host), p.Id)
}

type WorkflowId struct {
	PipelineId
	Name string
}

func (wid WorkflowId) String() string {
	return fmt.Sprintf("%s-%s-%s", normalize(wid.Host), wid.Id, normalize(wid.Name))
}

func normalize(name string) string {
	return re.ReplaceAllString(name, "-")
}
