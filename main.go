package main

import (
	"context"
	"strconv"

	"github.com/zly-app/grpc"
	"github.com/zly-app/service/cron"
	"github.com/zly-app/uapp"
	"github.com/zly-app/zapp"
	"github.com/zly-app/zapp/config"
	"github.com/zly-app/zapp/core"
	"github.com/zly-app/zapp/log"

	"github.com/zlyuancn/shardscan/conf"
	"github.com/zlyuancn/shardscan/dispatcher"
	"github.com/zlyuancn/shardscan/handler"
	"github.com/zlyuancn/shardscan/logic"
	"github.com/zlyuancn/shardscan/module"
	"github.com/zlyuancn/shardscan/pb"
	"github.com/zlyuancn/shardscan/segment_cache"
	"github.com/zlyuancn/shardscan/syslog"
)

func main() {
	config.RegistryApolloNeedParseNamespace(conf.ConfigKey)

	app := uapp.NewApp("shardscan",
		grpc.WithService(), // 启用 grpc 服务
		cron.WithService(), // 启用定时服务
	)
	defer app.Exit()

	err := conf.Init()
	if err != nil {
		log.Error("Init config fail. err=", err)
		return
	}

	// 事件handler在默认协程池中执行
	handler.EnableAsync()

	module.InitVisit()

	// app退出后释放分发协程池
	zapp.AddHandler(zapp.AfterCloseService, func(app core.IApp, handlerType zapp.HandlerType) {
		dispatcher.ReleasePool()
	})

	// rpc服务
	pb.RegisterScanServiceServer(grpc.Server(conf.Conf.GrpcName), logic.NewServer())

	// 定时输出分段缓存统计
	expression := "@every " + strconv.Itoa(conf.Conf.SegmentCacheStatsCronSec) + "s"
	cron.RegistryHandler("segment_cache_stats", expression, conf.Conf.SegmentCacheEnabled, func(ctx cron.IContext) error {
		segment_cache.LogStats(context.Background())
		return nil
	})

	// syslog
	syslog.Init()

	app.Run()
}
