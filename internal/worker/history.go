package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"machineid-swarm/internal/config"
	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/storage"
)

// History 输出最近的运行记录，每行一个 JSON 对象，返回进程退出码。
func History(ctx context.Context, cfg *config.Config, repo storage.Repository, out, errOut io.Writer, limit int) int {
	if repo == nil {
		opened, err := openRepository(ctx, cfg)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return xerrors.ExitCodeOf(err)
		}
		repo = opened
		defer repo.Close()
	}

	records, err := repo.ListLatest(ctx, limit)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取运行记录失败")
		fmt.Fprintf(errOut, "%v\n", err)
		return xerrors.ExitCodeOf(err)
	}
	enc := json.NewEncoder(out)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 1
		}
	}
	return 0
}
