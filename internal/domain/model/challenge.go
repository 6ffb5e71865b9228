// challenge.go — транзиентное состояние незавершённого входа (2FA / первичная
// настройка 2FA). Никогда не персистится: живёт от попытки входа до
// успешной верификации или явной отмены.
package model

// ChallengeKind — вид незавершённого шага аутентификации.
type ChallengeKind int

const (
	// ChallengeNone — нет незавершённого шага
	ChallengeNone ChallengeKind = iota
	// ChallengeTwoFactor — ожидается код 2FA (приложение или email)
	ChallengeTwoFactor
	// ChallengeEnrollment — ожидается первичная настройка 2FA
	ChallengeEnrollment
)

// TwoFactorMethod — активный способ подтверждения 2FA.
type TwoFactorMethod string

const (
	// MethodAuthenticator — код из приложения-аутентификатора
	MethodAuthenticator TwoFactorMethod = "app"
	// MethodEmailOTP — одноразовый код, отправленный на email
	MethodEmailOTP TwoFactorMethod = "email"
)

// PendingChallenge — явно передаваемое значение незавершённого шага входа.
// Zero value означает отсутствие шага (Kind == ChallengeNone).
type PendingChallenge struct {
	// Kind — вид шага
	Kind ChallengeKind
	// PreAuthToken — короткоживущий токен, достаточный только для
	// завершения 2FA/настройки, но не для доступа к ресурсам
	PreAuthToken string
	// Username — логин, для которого идёт вход
	Username string
	// Secret — секрет TOTP (только для ChallengeEnrollment)
	Secret string
	// QRCode — отображаемый QR-payload секрета (только для ChallengeEnrollment)
	QRCode string
}

// Active сообщает, есть ли незавершённый шаг.
func (c PendingChallenge) Active() bool {
	return c.Kind != ChallengeNone
}
