package patterns

// Pattern definitions, grouped by category. Severities reflect how strongly
// a single match should pull the aggregate score for that category.

func (r *Registry) registerManipulationPatterns() {
	cat := CategoryManipulation

	r.register("authority_claim", `(?i)\b(as\s+(your|the)\s+(administrator|supervisor|owner|developer)|i\s+have\s+(full\s+)?authori[zs]ation)\b`, cat, 0.6, "Claimed authority over the counterpart")
	r.register("urgency_pressure", `(?i)\b(right\s+now|immediately|before\s+it'?s\s+too\s+late|no\s+time\s+to\s+(verify|check|ask))\b`, cat, 0.4, "Artificial urgency")
	r.register("trust_grooming", `(?i)\b(just\s+between\s+us|don'?t\s+tell\s+anyone|our\s+little\s+secret|you\s+can\s+trust\s+me)\b`, cat, 0.55, "Secrecy and trust grooming")
	r.register("guilt_leverage", `(?i)\b(if\s+you\s+(really\s+)?cared|after\s+(all|everything)\s+i'?ve\s+done\s+for\s+you)\b`, cat, 0.45, "Emotional leverage")
	r.register("persona_override", `(?i)\b(you\s+are\s+now|pretend\s+(you'?re|to\s+be)|act\s+as\s+(if\s+you\s+(are|were)|an?))\s`, cat, 0.5, "Persona substitution request")
}

func (r *Registry) registerSafetyBypassPatterns() {
	cat := CategorySafetyBypass

	r.register("ignore_instructions", `(?i)\b(ignore|disregard|forget|override)\s+(all\s+|your\s+|any\s+|previous\s+)*(instructions?|rules?|guidelines?|restrictions?|policies)\b`, cat, 0.85, "Explicit instruction override")
	r.register("no_restrictions", `(?i)\b(without|with\s+no|free\s+(of|from))\s+(any\s+)?(restrictions?|limits?|filters?|censorship|guardrails?)\b`, cat, 0.8, "Restriction removal request")
	r.register("mode_switch", `(?i)\b(developer|debug|jailbreak|god|unrestricted)\s*mode\b`, cat, 0.85, "Privileged mode request")
	r.register("hypothetical_shield", `(?i)\b(hypothetically|in\s+theory|for\s+(purely\s+)?(educational|research)\s+purposes)\b.*\b(how\s+(would|could|do)|steps?|instructions?)\b`, cat, 0.5, "Hypothetical framing around operational asks")
	r.register("output_unfiltered", `(?i)\b(raw|unfiltered|uncensored)\s+(output|answer|response|version)\b`, cat, 0.7, "Unfiltered output request")
}

func (r *Registry) registerSystemCompromisePatterns() {
	cat := CategorySystemCompromise

	r.register("system_prompt_probe", `(?i)\b(repeat|print|show|reveal|display)\b.*\b(system\s+prompt|initial\s+instructions?|hidden\s+(prompt|instructions?))\b`, cat, 0.85, "System prompt extraction attempt")
	r.register("delimiter_injection", `(?i)(\[/?(INST|SYS|SYSTEM)\]|<\|?(im_start|im_end|system|endoftext)\|?>)`, cat, 0.9, "Template delimiter smuggling")
	r.register("tool_abuse", `(?i)\b(call|invoke|execute|run)\s+(the\s+)?(tool|function|command)\b.*\b(without\s+(asking|confirmation)|silently|secretly)\b`, cat, 0.8, "Covert tool invocation request")
	r.register("memory_poisoning", `(?i)\b(remember|store|save)\s+(this|the\s+following)\s+(for(ever)?|permanently|for\s+(all|future)\s+(sessions?|conversations?))\b`, cat, 0.6, "Persistent memory injection")
}

func (r *Registry) registerCredentialLeakPatterns() {
	cat := CategoryCredentialLeak

	r.register("api_key_generic", `(?i)\b(api[_\-]?key|secret[_\-]?key|access[_\-]?token)\s*[=:]\s*['"]?[A-Za-z0-9/\-_+=]{16,}`, cat, 0.9, "Inline API key or token")
	r.register("aws_access_key", `AKIA[0-9A-Z]{16}`, cat, 0.9, "AWS access key ID")
	r.register("github_token", `gh[pousr]_[0-9a-zA-Z]{36}`, cat, 0.9, "GitHub token")
	r.register("private_key_block", `-----BEGIN\s+(RSA|EC|OPENSSH|PGP)?\s*PRIVATE\s+KEY-----`, cat, 0.95, "PEM private key block")
	r.register("password_disclosure", `(?i)\b(my|the|their)\s+password\s+(is|was|=)\s*\S+`, cat, 0.8, "Plaintext password disclosure")
	r.register("credential_probe", `(?i)\b(what('s|\s+is)|tell\s+me|give\s+me|share)\b.*\b(password|passphrase|api\s+key|secret|token|credentials?)\b`, cat, 0.7, "Credential solicitation")
}

func (r *Registry) registerDataExtractionPatterns() {
	cat := CategoryDataExtraction

	r.register("bulk_dump", `(?i)\b(dump|export|list)\s+(all|every|the\s+entire)\b.*\b(users?|records?|entries|data|contents?)\b`, cat, 0.7, "Bulk data dump request")
	r.register("pii_probe", `(?i)\b(home\s+address|social\s+security|date\s+of\s+birth|mother'?s\s+maiden\s+name)\b`, cat, 0.6, "Personal data probe")
	r.register("training_data_probe", `(?i)\b(training\s+data|memori[zs]ed|verbatim)\b.*\b(repeat|recite|reproduce|output)\b`, cat, 0.55, "Training data extraction attempt")
}

func (r *Registry) registerObfuscationPatterns() {
	cat := CategoryObfuscation

	r.register("base64_blob", `\b[A-Za-z0-9+/]{40,}={0,2}\b`, cat, 0.4, "Long base64-like blob")
	r.register("hex_blob", `\b(?:[0-9a-fA-F]{2}[ :\-]){16,}[0-9a-fA-F]{2}\b`, cat, 0.4, "Long hex-encoded sequence")
	r.register("decode_request", `(?i)\b(decode|deobfuscate|unscramble)\s+(this|the\s+following)\b.*\b(then|and)\s+(do|execute|follow|answer)\b`, cat, 0.7, "Decode-then-execute request")
	r.register("leet_substitution", `(?i)\b[a-z]*[04371$@][a-z]+[04371$@][a-z]*[04371$@][a-z]*\b`, cat, 0.3, "Heavy character substitution")
	r.register("zero_width", "[​‌‍⁠\uFEFF]", cat, 0.75, "Zero-width characters")
}

func (r *Registry) registerEscalationPatterns() {
	cat := CategoryEscalation

	r.register("stepwise_buildup", `(?i)\b(now|next|finally|one\s+more\s+step)\b.*\b(apply|combine|use)\s+(this|that|what\s+(you|we))\b`, cat, 0.45, "Stepwise escalation marker")
	r.register("commitment_anchor", `(?i)\b(you\s+(already\s+)?(said|agreed|confirmed)|as\s+you\s+(just\s+)?(explained|described))\b`, cat, 0.4, "Anchoring on prior concessions")
	r.register("boundary_testing", `(?i)\b(what\s+if\s+i\s+(rephrase|ask\s+differently)|is\s+there\s+(any|some)\s+way\s+around)\b`, cat, 0.5, "Boundary probing")
}
