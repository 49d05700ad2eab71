package executor

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNonZeroExit = errors.New("container exited with non-zero status")

type DockerExecutor struct {
	cli   *client.Client
	image string
	pull  bool
	log   *zap.Logger
}

// NewDockerExecutor 初始化 Docker 客户端，每条命令在 image 的一个新容器里执行
func NewDockerExecutor(image string, pull bool, log *zap.Logger) (*DockerExecutor, error) {
	// 自动从环境变量或默认路径连接本地 Docker
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.44"))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker")
	}
	return &DockerExecutor{
		cli:   cli,
		image: image,
		pull:  pull,
		log:   log.Named("executor.docker"),
	}, nil
}

// Handle 消息即容器的 Cmd，回复容器的输出
func (e *DockerExecutor) Handle(ctx context.Context, message []any) (any, error) {
	cmd, err := CommandArgs(message)
	if err != nil {
		return nil, err
	}
	log := e.log.With(zap.Strings("cmd", cmd))

	// 1. 拉取镜像 (Pull Image)
	if e.pull {
		reader, err := e.cli.ImagePull(ctx, e.image, types.ImagePullOptions{})
		if err != nil {
			return nil, errors.Wrapf(err, "pulling %s", e.image)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	// 2. 创建容器 (Create Container)
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: e.image,
		Cmd:   cmd,
		Tty:   false,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "creating container")
	}
	containerID := resp.ID
	log = log.With(zap.String("container", containerID[:12]))
	log.Debug("Container created")

	// 清理容器，命令已结束，不复用调用方的 ctx
	defer func() {
		if err := e.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn("Failed to remove container", zap.Error(err))
		}
	}()

	// 3. 启动容器 (Start Container)
	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, errors.Wrap(err, "starting container")
	}

	// 4. 等待容器结束 (Wait)
	var exitCode int64
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, errors.Wrap(err, "waiting for container")
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	// 5. 获取日志 (Logs)
	outReader, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, errors.Wrap(err, "reading container logs")
	}
	defer outReader.Close()

	// stdcopy 会把 docker 的多路复用流拆分，写入 buf
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, outReader); err != nil {
		return nil, errors.Wrap(err, "demultiplexing container logs")
	}

	if exitCode != 0 {
		return nil, errors.Wrapf(ErrNonZeroExit, "exit %d: %s", exitCode, buf.String())
	}
	log.Debug("Container finished")
	return buf.String(), nil
}
