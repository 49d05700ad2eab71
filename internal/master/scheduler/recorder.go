package scheduler

import "simlab/pkg/model"

// Recorder 调度器的指标出口，实现见 internal/master/metrics
type Recorder interface {
	JobAdmitted()
	JobDrained()
	NodeStarted()
	NodeFinished(state model.NodeState)
	LockAttempt(acquired bool)
	ResourcesChanged(total, locked int)
}

type nopRecorder struct{}

func (nopRecorder) JobAdmitted()                 {}
func (nopRecorder) JobDrained()                  {}
func (nopRecorder) NodeStarted()                 {}
func (nopRecorder) NodeFinished(model.NodeState) {}
func (nopRecorder) LockAttempt(bool)             {}
func (nopRecorder) ResourcesChanged(int, int)    {}
