/**
 * internal/services/avatar.go
 * 第三方头像转存服务（Cloudflare R2）
 *
 * 功能：
 * - 下载第三方平台头像（仅 http/https 公网地址）
 * - 转换为 WebP 后上传到 R2
 * - 更新用户头像地址并清除用户缓存
 *
 * 依赖：
 * - github.com/aws/aws-sdk-go-v2: S3 兼容接口
 * - github.com/HugoSmits86/nativewebp: WebP 编码
 */

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/config"

	"github.com/HugoSmits86/nativewebp"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ====================  错误定义 ====================

var (
	// ErrAvatarSourceInvalid 头像地址不合法
	ErrAvatarSourceInvalid = errors.New("AVATAR_SOURCE_INVALID")
	// ErrAvatarTooLarge 头像超过大小限制
	ErrAvatarTooLarge = errors.New("AVATAR_TOO_LARGE")
	// ErrAvatarDownload 头像下载失败
	ErrAvatarDownload = errors.New("AVATAR_DOWNLOAD_FAILED")
	// ErrAvatarUpload 头像上传失败
	ErrAvatarUpload = errors.New("AVATAR_UPLOAD_FAILED")
)

// ====================  常量定义 ====================

const (
	avatarMaxSize       = 5 << 20 // 5MB
	avatarMirrorTimeout = 30 * time.Second
	avatarKeyFormat     = "avatar/%d.webp"
)

// ====================  接口定义 ====================

// objectPutter 对象上传，由 *s3.Client 实现
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// avatarStore 头像地址持久化，由 *models.UserRepository 实现
type avatarStore interface {
	UpdateAvatar(ctx context.Context, id int64, avatarURL string) error
}

// ====================  数据结构 ====================

// AvatarService 头像转存服务
type AvatarService struct {
	client    objectPutter
	bucket    string
	publicURL string
	users     avatarStore
	cache     *cache.UserCache
	http      *http.Client
	wg        sync.WaitGroup

	// allowPrivateHosts 仅测试使用
	allowPrivateHosts bool
}

// ====================  构造函数 ====================

// NewAvatarService 创建头像转存服务
// R2 未配置时返回 nil, nil，第三方登录直接使用平台头像地址
func NewAvatarService(ctx context.Context, cfg *config.Config, users avatarStore, userCache *cache.UserCache) (*AvatarService, error) {
	if !cfg.IsR2Configured() {
		utils.LogPrintf("[AVATAR] WARN: R2 not configured, avatar mirroring will be disabled")
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.R2AccessKey,
			cfg.R2SecretKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.R2Endpoint)
	})

	utils.LogPrintf("[AVATAR] Avatar service initialized: bucket=%s", cfg.R2Bucket)
	return newAvatarService(client, cfg.R2Bucket, cfg.R2URL, users, userCache), nil
}

func newAvatarService(client objectPutter, bucket, publicURL string, users avatarStore, userCache *cache.UserCache) *AvatarService {
	return &AvatarService{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		users:     users,
		cache:     userCache,
		http:      &http.Client{Timeout: oauthHTTPTimeout},
	}
}

// ====================  公开方法 ====================

// MirrorAsync 在后台转存头像，失败只记录日志
func (s *AvatarService) MirrorAsync(userID int64, sourceURL string) {
	if s == nil || s.client == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.LogPrintf("[AVATAR] ERROR: Mirror panic: userID=%d, panic=%v", userID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), avatarMirrorTimeout)
		defer cancel()

		if _, err := s.Mirror(ctx, userID, sourceURL); err != nil {
			utils.LogPrintf("[AVATAR] ERROR: Mirror failed: userID=%d, error=%v", userID, err)
		}
	}()
}

// Mirror 下载、转码、上传头像并更新用户
//
// 返回：
//   - string: R2 上的头像地址
//   - error: 任一步骤失败
func (s *AvatarService) Mirror(ctx context.Context, userID int64, sourceURL string) (string, error) {
	data, err := s.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	avatarURL, err := s.Upload(ctx, userID, data)
	if err != nil {
		return "", err
	}

	if err := s.users.UpdateAvatar(ctx, userID, avatarURL); err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	return avatarURL, nil
}

// Upload 将图片转换为 WebP 并上传
func (s *AvatarService) Upload(ctx context.Context, userID int64, imageData []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	var webpBuf bytes.Buffer
	if err := nativewebp.Encode(&webpBuf, img, nil); err != nil {
		return "", fmt.Errorf("failed to encode webp: %w", err)
	}

	key := fmt.Sprintf(avatarKeyFormat, userID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(webpBuf.Bytes()),
		ContentType: aws.String("image/webp"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAvatarUpload, err)
	}

	avatarURL := s.publicURL + "/" + key
	utils.LogPrintf("[AVATAR] Avatar uploaded: userID=%d, url=%s, size=%d bytes", userID, avatarURL, webpBuf.Len())
	return avatarURL, nil
}

// Wait 等待后台转存结束
func (s *AvatarService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// ====================  私有方法 ====================

// download 下载头像，限制大小与类型
func (s *AvatarService) download(ctx context.Context, sourceURL string) ([]byte, error) {
	if !s.allowPrivateHosts {
		if r := utils.ValidateRemoteImageURL(sourceURL); !r.Valid {
			return nil, ErrAvatarSourceInvalid
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarSourceInvalid, err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAvatarDownload, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: content-type %s", ErrAvatarDownload, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, avatarMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarDownload, err)
	}
	if len(data) > avatarMaxSize {
		return nil, ErrAvatarTooLarge
	}
	return data, nil
}
