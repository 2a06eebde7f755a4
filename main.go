// @title Counselor Training API
// @version 1.0
// @description 危机热线咨询员训练平台：分配、模拟会话与评估。

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

//go:generate swag init --output docs --outputTypes go

package main

import (
	"counselor_training_backend/internal/app"
	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/logger"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	devToken := flag.String("dev-token", "", "签发本地调试用 token，格式 <userId>:<role>，输出后退出")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *devToken != "" {
		token, err := issueDevToken(cfg, *devToken)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		return
	}

	application.Run()
}

func issueDevToken(cfg *config.Config, arg string) (string, error) {
	if cfg.Server.Mode == "release" {
		return "", fmt.Errorf("dev tokens are disabled in release mode")
	}
	idPart, rolePart, ok := strings.Cut(arg, ":")
	if !ok {
		return "", fmt.Errorf("expected <userId>:<role>, got %q", arg)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("invalid user id %q", idPart)
	}
	role := model.UserRole(rolePart)
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q", rolePart)
	}
	return util.GenerateJWT(model.Actor{ID: uint(id), Role: role}, cfg.JWT.Secret, cfg.JWT.ExpireTime)
}
