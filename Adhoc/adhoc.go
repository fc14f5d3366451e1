package Adhoc

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Device    string `json:"device"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// GetOutboundIP 通过 UDP "连接" 获取本机出口 IP，并不会真正发包
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Register sends one heartbeat for the node identified by req.Id.
func Register(ctx context.Context, client *resty.Client, reg RegServerConfig, req RegisterRequest) (RegisterResponse, error) {
	var respBody RegisterResponse
	req.TimeStamp = time.Now().Unix()
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		Post(reg.URL())
	if err != nil {
		return respBody, fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return respBody, fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return respBody, nil
}

// SendAliveMessage registers the evaluation node every interval until ctx is done.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, reg RegServerConfig, ip string, port int, device iface.Device, interval time.Duration) {
	defer wg.Done()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	req := RegisterRequest{
		Id:     uuid.NewString(),
		IP:     ip,
		Port:   port,
		Device: string(device),
	}
	send := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		if _, err := Register(ctx, client, reg, req); err != nil {
			logger.Log().Error("heartbeat failed", zap.Error(err))
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			send()
		}
	}
}
