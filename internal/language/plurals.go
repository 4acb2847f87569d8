package language

var (
	pluralOne       = Plural{NPlurals: 1, Formula: "0"}
	pluralTwo       = Plural{NPlurals: 2, Formula: "(n != 1)"}
	pluralTwoFrench = Plural{NPlurals: 2, Formula: "(n > 1)"}
	pluralSlavic    = Plural{NPlurals: 3, Formula: "(n%10==1 && n%100!=11 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2)"}
	pluralCzech     = Plural{NPlurals: 3, Formula: "(n==1) ? 0 : (n>=2 && n<=4) ? 1 : 2"}
)

// pluralRules maps language codes to gettext plural rules
var pluralRules = map[string]Plural{
	"ar":    {NPlurals: 6, Formula: "n==0 ? 0 : n==1 ? 1 : n==2 ? 2 : n%100>=3 && n%100<=10 ? 3 : n%100>=11 ? 4 : 5"},
	"be":    pluralSlavic,
	"bg":    pluralTwo,
	"ca":    pluralTwo,
	"cs":    pluralCzech,
	"cy":    {NPlurals: 4, Formula: "(n==1) ? 0 : (n==2) ? 1 : (n != 8 && n != 11) ? 2 : 3"},
	"da":    pluralTwo,
	"de":    pluralTwo,
	"el":    pluralTwo,
	"en":    pluralTwo,
	"eo":    pluralTwo,
	"es":    pluralTwo,
	"et":    pluralTwo,
	"eu":    pluralTwo,
	"fa":    pluralOne,
	"fi":    pluralTwo,
	"fr":    pluralTwoFrench,
	"ga":    {NPlurals: 5, Formula: "n==1 ? 0 : n==2 ? 1 : n<7 ? 2 : n<11 ? 3 : 4"},
	"gl":    pluralTwo,
	"he":    pluralTwo,
	"hr":    pluralSlavic,
	"hu":    pluralTwo,
	"id":    pluralOne,
	"is":    {NPlurals: 2, Formula: "(n%10!=1 || n%100==11)"},
	"it":    pluralTwo,
	"ja":    pluralOne,
	"ko":    pluralOne,
	"lt":    {NPlurals: 3, Formula: "(n%10==1 && n%100!=11 ? 0 : n%10>=2 && (n%100<10 || n%100>=20) ? 1 : 2)"},
	"lv":    {NPlurals: 3, Formula: "(n%10==1 && n%100!=11 ? 0 : n != 0 ? 1 : 2)"},
	"nb":    pluralTwo,
	"nl":    pluralTwo,
	"nn":    pluralTwo,
	"pl":    {NPlurals: 3, Formula: "(n==1 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2)"},
	"pt":    pluralTwo,
	"pt_BR": pluralTwoFrench,
	"ro":    {NPlurals: 3, Formula: "(n==1 ? 0 : (n==0 || (n%100 > 0 && n%100 < 20)) ? 1 : 2)"},
	"ru":    pluralSlavic,
	"sk":    pluralCzech,
	"sl":    {NPlurals: 4, Formula: "(n%100==1 ? 0 : n%100==2 ? 1 : n%100==3 || n%100==4 ? 2 : 3)"},
	"sr":    pluralSlavic,
	"sv":    pluralTwo,
	"th":    pluralOne,
	"tr":    pluralOne,
	"uk":    pluralSlavic,
	"vi":    pluralOne,
	"zh":    pluralOne,
}
