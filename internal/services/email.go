/**
 * internal/services/email.go
 * 邮件服务
 *
 * 功能：
 * - SMTP 连接管理（465 SSL / 587 STARTTLS）
 * - 激活邮件模板渲染（HTML + 纯文本）
 * - 激活邮件发送
 *
 * 依赖：
 * - github.com/wneessen/go-mail: SMTP 客户端
 * - templates/activation.*: 内嵌邮件模板
 */

package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"hiblogs-account/internal/config"

	"github.com/wneessen/go-mail"
)

// ====================  错误定义 ====================

var (
	// ErrEmailNilConfig 配置为空
	ErrEmailNilConfig = errors.New("EMAIL_NIL_CONFIG")
	// ErrEmailSMTPConfigMissing SMTP 配置缺失
	ErrEmailSMTPConfigMissing = errors.New("EMAIL_SMTP_CONFIG_MISSING")
	// ErrEmailEmptyRecipient 收件人为空
	ErrEmailEmptyRecipient = errors.New("EMAIL_EMPTY_RECIPIENT")
	// ErrEmailClientCreateFailed 客户端创建失败
	ErrEmailClientCreateFailed = errors.New("EMAIL_CLIENT_CREATE_FAILED")
	// ErrEmailSendFailed 发送失败
	ErrEmailSendFailed = errors.New("EMAIL_SEND_FAILED")
)

// ====================  常量定义 ====================

const (
	smtpPort465 = 465
	smtpPort587 = 587
	smtpTimeout = 15 * time.Second

	// SiteName 站点名称
	SiteName = "嗨-博客"
	// ActivationSubject 激活邮件主题
	ActivationSubject = "欢迎您注册 " + SiteName
)

//go:embed templates/activation.html templates/activation.txt
var templateFS embed.FS

var (
	activationHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/activation.html"))
	activationText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/activation.txt"))
)

// ====================  数据结构 ====================

// ActivationMail 激活邮件内容
type ActivationMail struct {
	To        string
	UserName  string
	Link      string
	ExpiresIn time.Duration
}

// activationView 模板数据
type activationView struct {
	Subject   string
	SiteName  string
	UserName  string
	Link      string
	ExpiresIn string
}

// EmailService 邮件服务
type EmailService struct {
	cfg *config.Config
}

// ====================  构造函数 ====================

// NewEmailService 创建邮件服务
//
// 参数：
//   - cfg: 应用配置（需要 SMTP 相关配置）
//
// 返回：
//   - *EmailService: 邮件服务实例
//   - error: 配置为空或 SMTP 配置不完整
func NewEmailService(cfg *config.Config) (*EmailService, error) {
	if cfg == nil {
		return nil, ErrEmailNilConfig
	}
	if !cfg.IsEmailConfigured() || cfg.SMTPFrom == "" {
		utils.LogPrintf("[EMAIL] ERROR: SMTP configuration incomplete")
		return nil, ErrEmailSMTPConfigMissing
	}

	utils.LogPrintf("[EMAIL] Email service initialized: host=%s, port=%d", cfg.SMTPHost, cfg.SMTPPort)
	return &EmailService{cfg: cfg}, nil
}

// ====================  公开方法 ====================

// SendActivation 发送注册激活邮件
//
// 参数：
//   - ctx: 上下文（控制 SMTP 拨号与发送超时）
//   - m: 邮件内容
//
// 返回：
//   - error: 渲染或发送失败
func (s *EmailService) SendActivation(ctx context.Context, m ActivationMail) error {
	if m.To == "" {
		return ErrEmailEmptyRecipient
	}

	htmlBody, textBody, err := renderActivation(m)
	if err != nil {
		return err
	}

	return s.send(ctx, m.To, ActivationSubject, htmlBody, textBody)
}

// ====================  私有方法 ====================

// send 发送一封 HTML + 纯文本邮件
func (s *EmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	client, err := s.createClient()
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		utils.LogPrintf("[EMAIL] ERROR: Failed to send email: to=%s, subject=%s, error=%v", to, subject, err)
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}

	utils.LogPrintf("[EMAIL] Email sent: to=%s, subject=%s", to, subject)
	return nil
}

// createClient 根据端口选择 TLS 策略和认证方式
// 465: 直接 SSL，网易邮箱用 LOGIN 认证
// 587 及其他端口: STARTTLS，PLAIN 认证
func (s *EmailService) createClient() (*mail.Client, error) {
	options := []mail.Option{
		mail.WithPort(s.cfg.SMTPPort),
		mail.WithUsername(s.cfg.SMTPUser),
		mail.WithPassword(s.cfg.SMTPPassword),
		mail.WithTimeout(smtpTimeout),
	}

	switch s.cfg.SMTPPort {
	case smtpPort465:
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithTLSPortPolicy(mail.TLSMandatory),
			mail.WithSSL(),
		)
	default:
		if s.cfg.SMTPPort != smtpPort587 {
			utils.LogPrintf("[EMAIL] WARN: Non-standard SMTP port %d, using STARTTLS", s.cfg.SMTPPort)
		}
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		)
	}

	client, err := mail.NewClient(s.cfg.SMTPHost, options...)
	if err != nil {
		utils.LogPrintf("[EMAIL] ERROR: Failed to create SMTP client: host=%s, port=%d, error=%v",
			s.cfg.SMTPHost, s.cfg.SMTPPort, err)
		return nil, fmt.Errorf("%w: %v", ErrEmailClientCreateFailed, err)
	}
	return client, nil
}

// ====================  辅助函数 ====================

// renderActivation 渲染激活邮件的 HTML 与纯文本正文
func renderActivation(m ActivationMail) (string, string, error) {
	view := activationView{
		Subject:   ActivationSubject,
		SiteName:  SiteName,
		UserName:  m.UserName,
		Link:      m.Link,
		ExpiresIn: humanizeMinutes(m.ExpiresIn),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := activationHTML.Execute(&htmlBuf, view); err != nil {
		return "", "", fmt.Errorf("render activation html: %w", err)
	}
	if err := activationText.Execute(&textBuf, view); err != nil {
		return "", "", fmt.Errorf("render activation text: %w", err)
	}
	return htmlBuf.String(), textBuf.String(), nil
}

// humanizeMinutes 将有效期格式化为“N 分钟”
func humanizeMinutes(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Minute
	}
	return fmt.Sprintf("%d 分钟", int(d.Minutes()))
}
