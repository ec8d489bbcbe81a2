package stream

import "fmt"

// DuplicateStreamError 注册时流标识已被当前活跃流占用
type DuplicateStreamError struct {
	ID string
}

func (e *DuplicateStreamError) Error() string {
	return fmt.Sprintf("stream %q already registered", e.ID)
}

// RegistrationError 注册帧发送失败。注册表条目已回滚,
// Err 保留底层传输原因。
type RegistrationError struct {
	ID  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("stream %q registration failed: %v", e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// StreamNotRegisteredError 对已注销的流执行重启。
// 通常发生在显式注销与重连触发的批量重启竞争时。
type StreamNotRegisteredError struct {
	ID string
}

func (e *StreamNotRegisteredError) Error() string {
	return fmt.Sprintf("stream %q is not registered", e.ID)
}
