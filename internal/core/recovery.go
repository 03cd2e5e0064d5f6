package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeRun 安全执行插件，捕获 panic 和返回的错误并转换为错误块。
// 插件正常返回时原样交回（可能是无效块，由调用方校验）；
// 返回 ErrInvalidBlock 时得到 nil。
func SafeRun(ctx context.Context, plugin Plugin, target string, notify Notify, cfg Config, log *zap.SugaredLogger) (block *Block) {
	info := plugin.Info()
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("插件执行 panic",
				"plugin", info.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			block = ErrorBlock(info, fmt.Errorf("panic: %v", r))
		}
	}()

	b, err := plugin.Run(ctx, target, notify, cfg)
	if errors.Is(err, ErrInvalidBlock) {
		// 格式无效的输出与返回无效块同样处理：交给调用方丢弃
		log.Warnw("插件输出格式无效", "plugin", info.ID, "error", err)
		return nil
	}
	if err != nil {
		log.Errorw("插件运行失败", "plugin", info.ID, "error", err)
		return ErrorBlock(info, err)
	}
	if b != nil {
		fillMeta(b, info)
	}
	return b
}

// ErrorBlock 构造一个带 error 字段、发现项为空的块
func ErrorBlock(info Info, err error) *Block {
	b := &Block{
		Plugin: info.DisplayName(),
		Result: []Finding{},
		Error:  err.Error(),
	}
	fillMeta(b, info)
	return b
}

func fillMeta(b *Block, info Info) {
	if b.PluginUUID == "" {
		b.PluginUUID = info.UUID
	}
	if b.FileName == "" {
		b.FileName = info.ID
	}
	if b.Description == "" {
		b.Description = info.Description
	}
	if b.Category == "" {
		b.Category = info.Category
	}
}
