package live

import (
	"testing"

	"go.uber.org/goleak"
)

// 每个会话的发送、读取和 ctx 监听协程都必须随 OnEnd 退出。
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
