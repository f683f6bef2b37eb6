package db

import (
	"sync"

	"github.com/zly-app/component/redis"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zlyuancn/shardscan/conf"
)

var (
	storeConnOnce sync.Once
	storeConn     *grpc.ClientConn
	storeConnErr  error
)

// 存储端连接, 进程内共享一个长连接
func GetStoreConn() (*grpc.ClientConn, error) {
	storeConnOnce.Do(func() {
		storeConn, storeConnErr = grpc.NewClient(conf.Conf.StoreTarget,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	})
	return storeConn, storeConnErr
}

// 分段缓存的 redis 组件, 未配置组件名时返回 nil
func GetSegmentCacheRedis() (redis.UniversalClient, error) {
	if conf.Conf.SegmentCacheRedisName == "" {
		return nil, nil
	}
	return redis.GetClient(conf.Conf.SegmentCacheRedisName)
}
