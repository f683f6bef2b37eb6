package dispatcher

import (
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/zlyuancn/shardscan/conf"
)

var (
	poolOnce sync.Once
	pool     *ants.Pool
	poolErr  error
)

// 进程共享的分发协程池
func getPool() (*ants.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = ants.NewPool(conf.Conf.DispatchPoolSize)
	})
	return pool, poolErr
}

// 释放协程池, 进程退出时调用
func ReleasePool() {
	if pool != nil {
		pool.Release()
	}
}
