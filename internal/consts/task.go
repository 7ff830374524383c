package consts

// TaskStatus 分析任务状态, 只允许单向流转: PENDING -> IN_PROGRESS -> 终态
type TaskStatus string

const (
	Pending    TaskStatus = "PENDING"     // 已入队, 等待领取
	InProgress TaskStatus = "IN_PROGRESS" // 已被某个 worker 领取
	Success    TaskStatus = "SUCCESS"     // 所有步骤 OK/SKIPPED
	Failed     TaskStatus = "FAILED"      // 步骤 ERROR 或工作区错误
	Canceled   TaskStatus = "CANCELED"    // 被显式取消
)

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case Success, Failed, Canceled:
		return true
	}
	return false
}

// ParseTaskStatus returns ok=false for unknown values.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(s); st {
	case Pending, InProgress, Success, Failed, Canceled:
		return st, true
	}
	return "", false
}

// StepResult 单个步骤的执行结果
type StepResult string

const (
	StepOK      StepResult = "OK"
	StepSkipped StepResult = "SKIPPED"
	StepError   StepResult = "ERROR"
)
