package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	"github.com/gwuhaolin/playout/configure"
	"github.com/gwuhaolin/playout/playback"

	"github.com/go-redis/redis/v7"
	"github.com/kr/pretty"
	log "github.com/sirupsen/logrus"
)

var VERSION = "master"

// 택스트 포매터에 호출 함수 이름과 파일:라인을 붙인다.
func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("playout panic: ", r)
			time.Sleep(1 * time.Second)
		}
	}()

	log.Infof(`
     ____  _                         _
    |  _ \| | __ _ _   _  ___  _   _| |_
    | |_) | |/ _' | | | |/ _ \| | | | __|
    |  __/| | (_| | |_| | (_) | |_| | |_
    |_|   |_|\__,_|\__, |\___/ \__,_|\__|
                   |___/
        version: %s
	`, VERSION)

	if err := configure.Init(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
	cfg, err := configure.Load()
	if err != nil {
		log.Fatal(err)
	}

	// redis 가 설정되면 여러 플레이어가 같은 정책을 공유한다.
	var redisCli *redis.Client
	if cfg.RedisAddr != "" {
		if redisCli, err = configure.NewRedisClient(cfg.RedisAddr, cfg.RedisPwd); err != nil {
			log.Fatal(err)
		}
		defer redisCli.Close()
	}

	player, err := playback.NewPlayer(cfg, "movie", redisCli)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := player.Run(ctx)
	if err != nil {
		log.Error("playback: ", err)
	}
	log.Infof("playback report: \n%# v", pretty.Formatter(report))
}
